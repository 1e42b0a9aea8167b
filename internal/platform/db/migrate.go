package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL statements applied by Migrate, in order.
func Schema() []string {
	var stmts []string
	for _, part := range strings.Split(schemaSQL, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// Migrate provisions the ledger and stock tables. Every statement is idempotent.
func Migrate(ctx context.Context, db Executor) error {
	for _, stmt := range Schema() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: migrate: %w", err)
		}
	}
	return nil
}
