// Package store provides SQLite-backed durable storage for the Content
// Library and production run records.
//
// Tables:
//   - assets: one row per asset record (identity, lifecycle status, provenance)
//   - asset_segments: segment associations beyond the primary segment
//   - asset_events: append-only log of status transitions
//   - runs: production run records with the final ledger snapshot
//
// # Ordering
//
// Every list query orders by seq ASC, id ASC COLLATE BINARY. seq is a
// logical insertion counter, never a timestamp, so results are identical
// across machines and replays.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - one open connection: SQLite has a single writer, and registration
//     relies on transactions being serialized
//
// # Schema Versions
//
//	1 - assets and asset_segments
//	2 - status column (pre-existing rows become APPROVED), asset_events, runs
package store
