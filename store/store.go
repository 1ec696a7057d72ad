package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/strategystore/internal/idgen"
)

// Store is the data access object for pipeline strategies.
//
// Reads come from the cache snapshot when caching is enabled and from a
// backend listing otherwise. Name uniqueness within an application is
// checked against that same view before each write. The check and the
// write are not atomic: two processes racing to claim the same name can
// both succeed. With caching enabled and a failed first load, the view is
// empty and the check passes until a reload succeeds.
type Store struct {
	backend Backend
	cache   *Cache
	ids     idgen.Generator
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator for strategy and trigger ids.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// WithLogger sets the logger used by the store and its cache.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a new Store over backend.
func New(backend Backend, config Config, opts ...Option) *Store {
	config.validate()
	s := &Store{
		backend: backend,
		ids:     idgen.Default,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if config.CacheEnabled {
		s.cache = NewCache(backend, config, s.logger)
	}
	return s
}

// Start performs the first cache load and starts the background refresher.
// It is a no-op when caching is disabled.
func (s *Store) Start(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Start(ctx)
}

// Close stops the background refresher.
func (s *Store) Close() {
	if s.cache != nil {
		s.cache.Stop()
	}
}

// Cache returns the read cache, or nil when caching is disabled.
func (s *Store) Cache() *Cache {
	return s.cache
}

// Backend returns the backing store.
func (s *Store) Backend() Backend {
	return s.backend
}

// Create stores a new strategy and returns it with its assigned ids.
//
// When existingID is empty a fresh id is issued. Unless existingID names a
// strategy that is already stored, every cron trigger gets a fresh id
// regardless of the id the caller supplied; reusing the id of a stored
// strategy takes the update path and keeps trigger ids as given.
func (s *Store) Create(ctx context.Context, existingID string, doc *Document) (*Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil strategy", ErrInvalidDocument)
	}
	d := doc.Clone()
	if err := d.validate(); err != nil {
		return nil, err
	}

	docs, err := s.view(ctx)
	if err != nil {
		return nil, err
	}

	var prior *Document
	if existingID != "" {
		d.ID = existingID
		prior = findByID(docs, existingID)
	} else {
		d.ID = s.ids.NewID()
	}
	if prior == nil {
		s.regenerateCronTriggerIDs(d)
	}

	if err := checkUniqueName(docs, d); err != nil {
		return nil, err
	}
	return s.commit(ctx, prior, d)
}

// Update replaces the strategy with the given id. Trigger ids are kept as
// given. The new name must not be used by another strategy of the same
// application.
func (s *Store) Update(ctx context.Context, id string, doc *Document) (*Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil strategy", ErrInvalidDocument)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidDocument)
	}
	d := doc.Clone()
	d.ID = id
	if err := d.validate(); err != nil {
		return nil, err
	}

	docs, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkUniqueName(docs, d); err != nil {
		return nil, err
	}
	return s.commit(ctx, findByID(docs, id), d)
}

// Rename changes the name of the strategy called from in application.
// It returns ErrNotFound when there is no such strategy and
// ErrDuplicateName when another strategy of the application is called to.
func (s *Store) Rename(ctx context.Context, application, from, to string) error {
	if to == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDocument)
	}
	docs, err := s.view(ctx)
	if err != nil {
		return err
	}
	cur := findByName(docs, application, from)
	if cur == nil {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, application, from)
	}
	if from == to {
		return nil
	}

	d := cur.Clone()
	d.Name = to
	if err := checkUniqueName(docs, d); err != nil {
		return err
	}
	if _, err := s.commit(ctx, cur, d); err != nil {
		return err
	}

	s.logger.Info("renamed strategy",
		"id", d.ID,
		"application", application,
		"from", from,
		"to", to,
	)
	return nil
}

// Delete removes the strategy called name in application. Deleting a
// strategy that does not exist is a no-op.
func (s *Store) Delete(ctx context.Context, application, name string) error {
	docs, err := s.view(ctx)
	if err != nil {
		return err
	}
	cur := findByName(docs, application, name)
	if cur == nil {
		return nil
	}
	return s.remove(ctx, cur)
}

// DeleteByID removes the strategy with the given id. Deleting a strategy
// that does not exist is a no-op.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	cur, err := s.lookup(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.remove(ctx, cur)
}

// FindByID returns the strategy with the given id, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*Document, error) {
	d, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// GetPipelineID returns the id of the strategy called name in application,
// or ErrNotFound.
func (s *Store) GetPipelineID(ctx context.Context, application, name string) (string, error) {
	docs, err := s.view(ctx)
	if err != nil {
		return "", err
	}
	d := findByName(docs, application, name)
	if d == nil {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, application, name)
	}
	return d.ID, nil
}

// All returns every strategy ordered by application and name.
func (s *Store) All(ctx context.Context) ([]*Document, error) {
	docs, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	return cloneAll(docs), nil
}

// GetPipelinesByApplication returns the strategies of application ordered
// by name. It is the subset of All with a matching application.
func (s *Store) GetPipelinesByApplication(ctx context.Context, application string) ([]*Document, error) {
	docs, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Document
	for _, d := range docs {
		if d.Application == application {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

// view returns the current readable set of strategies, ordered. The
// documents may be shared with the cache and must not be modified.
func (s *Store) view(ctx context.Context) ([]*Document, error) {
	if s.cache != nil {
		return s.cache.Snapshot().All(), nil
	}
	docs, err := s.backend.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sortDocuments(docs)
	return docs, nil
}

func (s *Store) lookup(ctx context.Context, id string) (*Document, error) {
	if s.cache != nil {
		if d, ok := s.cache.Snapshot().Get(id); ok {
			return d, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	docs, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	if d := findByID(docs, id); d != nil {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// commit writes d and, when d moved to another application, removes the
// record of prior. The cache sees the result only once both records agree.
// If prior cannot be removed, the new record is withdrawn again so the
// backend never keeps two records with the same id.
func (s *Store) commit(ctx context.Context, prior, d *Document) (*Document, error) {
	if err := s.backend.Put(ctx, d); err != nil {
		return nil, err
	}

	if prior != nil && prior.Application != d.Application {
		if err := s.backend.Delete(ctx, prior.Key()); err != nil {
			if rerr := s.backend.Delete(ctx, d.Key()); rerr != nil {
				s.logger.Error("failed to withdraw moved strategy, two records share its id",
					"id", d.ID,
					"application", d.Application,
					"previousApplication", prior.Application,
					"error", rerr,
				)
			}
			return nil, fmt.Errorf("remove previous record %s: %w", prior.Key(), err)
		}
	}

	stored := d.Clone()
	if s.cache != nil {
		s.cache.apply(stored)
	}
	return stored.Clone(), nil
}

func (s *Store) remove(ctx context.Context, d *Document) error {
	if err := s.backend.Delete(ctx, d.Key()); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.remove(d.ID)
	}
	s.logger.Info("deleted strategy",
		"id", d.ID,
		"application", d.Application,
		"name", d.Name,
	)
	return nil
}

// regenerateCronTriggerIDs gives every cron trigger of d a fresh id that
// differs from the one it carries.
func (s *Store) regenerateCronTriggerIDs(d *Document) {
	for i := range d.Triggers {
		if !d.Triggers[i].IsCron() {
			continue
		}
		old := d.Triggers[i].ID
		id := s.ids.NewID()
		for id == old {
			id = s.ids.NewID()
		}
		d.Triggers[i].ID = id
	}
}

// checkUniqueName reports ErrDuplicateName when a strategy other than d
// has d's name in d's application.
func checkUniqueName(docs []*Document, d *Document) error {
	for _, other := range docs {
		if other.ID != d.ID && other.Application == d.Application && other.Name == d.Name {
			return fmt.Errorf("%w: %q in %q", ErrDuplicateName, d.Name, d.Application)
		}
	}
	return nil
}

func findByID(docs []*Document, id string) *Document {
	for _, d := range docs {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func findByName(docs []*Document, application, name string) *Document {
	for _, d := range docs {
		if d.Application == application && d.Name == name {
			return d
		}
	}
	return nil
}

func cloneAll(docs []*Document) []*Document {
	out := make([]*Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}
