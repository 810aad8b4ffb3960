// Package db provides the embedded database migrations.
package db

import "embed"

// Migrations holds the versioned golang-migrate files for PostgreSQL.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the root of Migrations.
const MigrationsDir = "migrations"
