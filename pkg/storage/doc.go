// Package storage provides the GORM-backed persistence layer for the
// asyncjobs module. SQLite works for development and tests; PostgreSQL is
// the production target. Both support the partial unique index that backs
// job deduplication.
package storage
