// Package postgres implements the store using pgx/v5 with raw SQL.
// Dequeue and reclaim are concurrent-safe through SELECT FOR UPDATE
// SKIP LOCKED; schema setup runs from embedded SQL migrations.
package postgres
