package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/strategystore/service"
	"github.com/jacentio/strategystore/store"
	"github.com/jacentio/strategystore/stream"
)

// direct opens the store without a cache; one-shot commands read the
// backend once.
func (c *cli) direct(ctx context.Context) (*runtime, *service.Service, error) {
	storeCfg := c.cfg.Store
	storeCfg.CacheEnabled = false
	rt, err := c.open(ctx, c.cfg, storeCfg, c.logger)
	if err != nil {
		return nil, nil, err
	}
	return rt, service.New(rt.store, c.logger), nil
}

// result turns a store error into the message a client would see.
func result(svc *service.Service, err error) error {
	if err == nil {
		return nil
	}
	code, msg := svc.Status(err)
	if code == http.StatusInternalServerError {
		return err
	}
	return errors.New(msg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readDocument decodes one strategy from path, or from in when path is "-".
func readDocument(path string, in io.Reader) (*store.Document, error) {
	var r io.Reader = in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var doc store.Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &doc, nil
}

func (c *cli) initCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the DynamoDB table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, _, err := c.direct(cmd.Context())
			if err != nil {
				return err
			}
			if rt.tables == nil {
				return fmt.Errorf("init requires the dynamo backend, not %q", c.cfg.Backend)
			}
			if err := rt.tables.CreateTable(cmd.Context(), wait); err != nil {
				return err
			}
			c.logger.Info("strategies table ready", "table", rt.tables.Table())
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "how long to wait for the table to become active")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	var application string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, svc, err := c.direct(cmd.Context())
			if err != nil {
				return err
			}
			docs, err := svc.List(cmd.Context(), application)
			if err != nil {
				return result(svc, err)
			}
			return writeJSON(cmd.OutOrStdout(), docs)
		},
	}
	cmd.Flags().StringVarP(&application, "application", "a", "", "only list strategies of this application")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, svc, err := c.direct(cmd.Context())
			if err != nil {
				return err
			}
			doc, err := rt.store.FindByID(cmd.Context(), args[0])
			if err != nil {
				return result(svc, err)
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		},
	}
}

func (c *cli) saveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <file.json|->",
		Short: "Create a strategy, or replace the one with the same name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			_, svc, err := c.direct(cmd.Context())
			if err != nil {
				return err
			}
			saved, err := svc.Save(cmd.Context(), doc)
			if err != nil {
				return result(svc, err)
			}
			return writeJSON(cmd.OutOrStdout(), saved)
		},
	}
}

func (c *cli) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <application> <from> <to>",
		Short: "Rename a strategy",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := c.direct(cmd.Context())
			if err != nil {
				return err
			}
			err = svc.Move(cmd.Context(), service.MoveRequest{
				Application: args[0],
				From:        args[1],
				To:          args[2],
			})
			return result(svc, err)
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <application> <name>",
		Short: "Delete a strategy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := c.direct(cmd.Context())
			if err != nil {
				return err
			}
			return result(svc, svc.DeleteByName(cmd.Context(), args[0], args[1]))
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a cached view of the strategies and report its size",
		Long: `Loads every strategy into memory, refreshes the view on schedule and,
when stream.queue_url is set, whenever the bucket reports a change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := handleSignals(cmd.Context())
			defer cancel()
			return c.watch(ctx, every)
		},
	}
	cmd.Flags().DurationVar(&every, "report-interval", time.Minute, "how often to log the cached strategy count")
	return cmd
}

func (c *cli) watch(ctx context.Context, every time.Duration) error {
	storeCfg := c.cfg.Store
	storeCfg.CacheEnabled = true
	rt, err := c.open(ctx, c.cfg, storeCfg, c.logger)
	if err != nil {
		return err
	}
	if err := rt.store.Start(ctx); err != nil {
		return err
	}
	defer rt.store.Close()
	cache := rt.store.Cache()

	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.Stream.QueueURL != "" && rt.queue != nil {
		handler := stream.NewHandler(cache, c.cfg.ObjectStore.Bucket, c.cfg.ObjectStore.Prefix, c.logger)
		poller := stream.NewPoller(rt.queue, handler, c.cfg.Stream)
		g.Go(func() error { return poller.Run(gctx) })
	} else {
		c.logger.Info("no queue configured, relying on scheduled refreshes",
			"refreshInterval", storeCfg.RefreshInterval,
		)
	}

	g.Go(func() error {
		if every <= 0 {
			every = time.Minute
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				snap := cache.Snapshot()
				c.logger.Info("strategies cached",
					"count", snap.Len(),
					"loadedAt", snap.LoadedAt(),
					"state", cache.State().String(),
				)
			}
		}
	})
	return g.Wait()
}
