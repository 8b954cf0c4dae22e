// Package storage provides the durable backends for the subscriber set.
//
// Every backend stores a whole snapshot of chat IDs and replaces it
// atomically on Save, so a reader never observes a half-written set:
//   - memory: nothing is persisted
//   - file:   JSON array, written to a temp file and renamed into place
//   - sqlite: one table, replaced inside a transaction
//   - redis:  one set key, replaced inside MULTI/EXEC
package storage
