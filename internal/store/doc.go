// Package store declares the run ledger repository and an in-memory
// implementation used when no database is configured.
package store
