//go:build e2e

// Package e2e contains end-to-end integration tests against a real DynamoDB
// table and, when STRATEGYSTORE_E2E_BUCKET is set, a real S3 bucket.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"github.com/jacentio/strategystore/dynamo"
	"github.com/jacentio/strategystore/objectstore"
	"github.com/jacentio/strategystore/store"
)

// Test configuration
const (
	// Table names - unique per test run to avoid conflicts
	tablePrefix = "strategystore-e2e-test"
)

var (
	testID     string
	tableName  string
	bucketName string

	ddbClient *dynamodb.Client
	awsCfg    aws.Config
	ddb       *dynamo.Backend
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	tableName = fmt.Sprintf("%s-%s", tablePrefix, testID)
	bucketName = os.Getenv("STRATEGYSTORE_E2E_BUCKET")

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Table: %s\n", tableName)

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if profile := os.Getenv("STRATEGYSTORE_E2E_PROFILE"); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	awsCfg = cfg
	ddbClient = dynamodb.NewFromConfig(cfg)

	ddb = dynamo.New(ddbClient, dynamo.Config{Table: tableName, ScanSegments: 4})
	if err := ddb.CreateTable(ctx, 2*time.Minute); err != nil {
		fmt.Printf("Failed to create table: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if _, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(tableName),
	}); err != nil {
		fmt.Printf("Warning: failed to delete table %s: %v\n", tableName, err)
	}

	os.Exit(code)
}

// objectBackend returns a backend under a prefix unique to the test, and
// removes what the test wrote when it ends.
func objectBackend(t *testing.T) *objectstore.Backend {
	t.Helper()
	if bucketName == "" {
		t.Skip("STRATEGYSTORE_E2E_BUCKET not set")
	}
	b := objectstore.New(objectstore.NewClient(awsCfg), objectstore.Config{
		Bucket:    bucketName,
		Prefix:    fmt.Sprintf("%s/%s/%s", tablePrefix, testID, t.Name()),
		NumShards: 4,
	})
	t.Cleanup(func() {
		ctx := context.Background()
		docs, err := b.ListAll(ctx)
		if err != nil {
			t.Logf("cleanup list: %v", err)
			return
		}
		for _, d := range docs {
			if err := b.Delete(ctx, d.Key()); err != nil {
				t.Logf("cleanup delete %s: %v", d.ID, err)
			}
		}
	})
	return b
}

// application returns an application name unique to the test.
func application() string {
	return fmt.Sprintf("app-%s-%s", testID, uuid.New().String()[:8])
}

func strategy(app, name string) *store.Document {
	return &store.Document{
		Application: app,
		Name:        name,
		Triggers:    []store.Trigger{{ID: "client-id", Type: "cron"}},
	}
}

// --- DynamoDB Tests ---

func TestDynamo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.New(ddb, store.Config{})
	app := application()

	created, err := s.Create(ctx, "", strategy(app, "deploy"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Triggers[0].ID == "client-id" {
		t.Error("expected cron trigger id to be reissued")
	}

	if _, err := s.Create(ctx, "", strategy(app, "deploy")); !errors.Is(err, store.ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}

	if err := s.Rename(ctx, app, "deploy", "release"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	id, err := s.GetPipelineID(ctx, app, "release")
	if err != nil || id != created.ID {
		t.Fatalf("expected id %q after rename, got %q (%v)", created.ID, id, err)
	}

	if err := s.Delete(ctx, app, "release"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.FindByID(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDynamo_ParallelScan(t *testing.T) {
	ctx := context.Background()
	s := store.New(ddb, store.Config{})
	app := application()

	const n = 25
	for i := 0; i < n; i++ {
		if _, err := s.Create(ctx, "", strategy(app, fmt.Sprintf("s-%02d", i))); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	docs, err := s.GetPipelinesByApplication(ctx, app)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != n {
		t.Errorf("expected %d strategies, got %d", n, len(docs))
	}
}

func TestDynamo_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	s := store.New(ddb, store.Config{})
	app := application()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Create(ctx, "", strategy(app, fmt.Sprintf("c-%d", i))); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("create: %v", err)
	}

	docs, _ := s.GetPipelinesByApplication(ctx, app)
	if len(docs) != 10 {
		t.Errorf("expected 10 strategies, got %d", len(docs))
	}
}

// --- S3 Tests ---

func TestObjectStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.New(objectBackend(t), store.Config{})
	app := application()

	created, err := s.Create(ctx, "", strategy(app, "deploy"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated := created.Clone()
	updated.Name = "release"
	if _, err := s.Update(ctx, created.ID, updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Name != "release" || got.Triggers[0].ID != created.Triggers[0].ID {
		t.Errorf("unexpected strategy after update %+v", got)
	}

	if err := s.DeleteByID(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, _ := s.All(ctx)
	if len(all) != 0 {
		t.Errorf("expected no strategies, got %d", len(all))
	}
}

func TestObjectStore_CacheSeesOtherWriter(t *testing.T) {
	ctx := context.Background()
	b := objectBackend(t)
	app := application()

	reader := store.New(b, store.Config{CacheEnabled: true, RefreshInterval: time.Hour})
	if err := reader.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer reader.Close()

	writer := store.New(b, store.Config{})
	if _, err := writer.Create(ctx, "", strategy(app, "deploy")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := reader.GetPipelineID(ctx, app, "deploy"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected stale cache before refresh, got %v", err)
	}
	if err := reader.Cache().Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := reader.GetPipelineID(ctx, app, "deploy"); err != nil {
		t.Errorf("expected strategy after refresh, got %v", err)
	}
}
