package main

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// initdb applies the schema to the configured database. Statements are
// idempotent, so running it against an existing database is safe.
func main() {
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to open database: %w", err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}

	if _, err := db.Exec(schema); err != nil {
		exitWithError(fmt.Errorf("failed to apply schema: %w", err))
	}
	fmt.Println("schema applied")
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
