// Package db embeds the marketplace database schema so binaries and tests
// can apply it without reaching for files on disk.
package db

import _ "embed"

// Schema holds the full DDL: sellers, buyers, addresses, the product
// catalog, orders with their per-seller sub-orders, deliveries, and the
// webhook event ledger.
//
//go:embed migrations/001_schema.sql
var Schema string
