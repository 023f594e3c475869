// Package db embeds the database schema so binaries can run migrations
// without shipping SQL files alongside them.
package db

import _ "embed"

// Schema holds the DDL for every checkout table, applied on startup and by
// the seed tooling.
//
//go:embed migrations/001_schema.sql
var Schema string
