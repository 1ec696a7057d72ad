// Package store provides the data access layer for pipeline strategies.
//
// A strategy is a named configuration document owned by an application.
// The store assigns ids, keeps names unique within an application and
// reissues cron trigger ids when a strategy is first created. Everything
// else in the document is opaque and round-trips unchanged.
//
// # Backends
//
// Storage is delegated to a [Backend]. Two implementations ship with the
// module:
//
//   - package dynamo: DynamoDB, consistent point reads and listing
//   - package objectstore: S3 or any S3-compatible bucket, cheap but slow
//     to list
//
// # Caching
//
// With [Config.CacheEnabled] the store serves every read from an in-memory
// [Snapshot] that a [Cache] reloads in the background. Writes made through
// the store are published to the snapshot immediately; writes made by other
// processes become visible after the next reload:
//
//	s := store.New(backend, store.Config{
//	    CacheEnabled:    true,
//	    RefreshInterval: 10 * time.Second,
//	})
//	if err := s.Start(ctx); err != nil {
//	    // first load failed; reads return an empty set until a reload succeeds
//	}
//	defer s.Close()
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - no strategy matches the lookup
//   - [ErrDuplicateName] - name already used in the application
//   - [ErrStoreUnavailable] - the backend failed
//   - [ErrInvalidDocument] - application or name missing
package store
