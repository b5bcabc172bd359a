// Package cache defines the named cache stores the worker reconciles: a
// manifest-snapshot store, a staging store and the persistent content store.
// A Storage opens and deletes stores by name; a Store offers atomic per-key
// Put/Remove plus Keys listing, which is all the stage-then-merge activation
// needs. Two backends exist: a filesystem layout (one file per entry holding a
// JSON header line and the body, written via temp file + rename) and a single
// SQLite database.
package cache
