// Package store defines the persistence interfaces for tasks and
// rate-limit counters, along with shared database plumbing: the DBTX
// abstraction, transaction management, and the store error taxonomy.
package store
