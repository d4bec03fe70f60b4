// Package postgres provides the PostgreSQL-backed implementations of the
// store interfaces: the task store with its atomic claim transition and
// the windowed rate-limit counter store.
package postgres
