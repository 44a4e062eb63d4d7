// Package stores persists safeguards run history in SQLite, with embedded
// migrations, WAL mode and per-policy result rows.
package stores
