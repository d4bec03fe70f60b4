// Package domain contains the core business entities of the task
// subsystem: the Task with its status lifecycle and the kind-specific
// payload types. It is independent of any storage, transport, or delivery
// mechanism.
package domain
