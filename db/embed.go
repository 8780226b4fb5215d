// Package db embeds the PostgreSQL schema of the order engine.
package db

import _ "embed"

// Schema creates the catalog, order, audit, refund and API key tables. Every
// statement is idempotent, so it runs on each api-server and seed-db start.
//
//go:embed migrations/001_schema.sql
var Schema string
