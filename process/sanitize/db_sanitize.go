// Package sanitize empties application tables, e.g. to reset a staging database.
package sanitize

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"rxscan/pkg/database"
)

// DefaultTables lists the application tables, children first.
var DefaultTables = []string{
	"prescription_medicines", "prescriptions", "uploads", "refresh_tokens", "profiles", "users", "roles",
}

var nameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Options controls Run. Nothing is changed unless DryRun is false and Yes is true.
type Options struct {
	Tables []string
	DryRun bool
	Yes    bool
	// Reseed recreates the roles and the admin user after truncation.
	Reseed bool
	Logger *zap.Logger
}

// Result reports what Run considered and did.
type Result struct {
	Tables    []string
	Truncated bool
	Reseeded  bool
}

// Run validates table names, keeps the ones that exist and truncates them.
// Postgres uses TRUNCATE ... RESTART IDENTITY CASCADE; other dialects delete
// rows table by table.
func Run(db *gorm.DB, opts Options, out io.Writer) (Result, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.Tables) == 0 {
		opts.Tables = DefaultTables
	}
	var res Result
	for _, t := range opts.Tables {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !nameRe.MatchString(t) {
			opts.Logger.Warn("skipping invalid table name", zap.String("table", t))
			continue
		}
		if !db.Migrator().HasTable(t) {
			opts.Logger.Info("table not found, skipping", zap.String("table", t))
			continue
		}
		res.Tables = append(res.Tables, t)
	}
	if len(res.Tables) == 0 {
		fmt.Fprintln(out, "no requested tables present in the database; nothing to do")
		return res, nil
	}

	fmt.Fprintln(out, "Tables considered for truncation:")
	for _, t := range res.Tables {
		fmt.Fprintf(out, " - %s\n", t)
	}
	if opts.DryRun {
		fmt.Fprintln(out, "dry-run enabled; no changes will be made. Use --dry-run=false --yes to execute.")
		return res, nil
	}
	if !opts.Yes {
		fmt.Fprintln(out, "Destructive operation. Pass --yes to confirm execution. Aborting.")
		return res, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	tx := db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		quoted := make([]string, len(res.Tables))
		for i, t := range res.Tables {
			quoted[i] = `"` + t + `"`
		}
		stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(quoted, ", "))
		opts.Logger.Info("executing", zap.String("stmt", stmt))
		if err := tx.Exec(stmt).Error; err != nil {
			return res, fmt.Errorf("truncate failed: %w", err)
		}
	} else {
		for _, t := range res.Tables {
			if err := tx.Exec(`DELETE FROM "` + t + `"`).Error; err != nil {
				return res, fmt.Errorf("delete from %s: %w", t, err)
			}
		}
	}
	res.Truncated = true
	fmt.Fprintln(out, "Truncate completed.")

	if opts.Reseed {
		if err := database.Seed(db, opts.Logger); err != nil {
			return res, fmt.Errorf("reseed failed: %w", err)
		}
		res.Reseeded = true
	}
	return res, nil
}
