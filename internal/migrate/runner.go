// Package migrate applies on-disk SQL migrations and seeds, recording
// them in a single history table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const historyTable = "schema_history"

const (
	kindMigration = "migration"
	kindSeed      = "seed"
)

// Applied is one history row.
type Applied struct {
	Name      string
	Kind      string
	AppliedAt time.Time
}

// Runner executes migration and seed files against a database.
type Runner struct {
	db       *sql.DB
	dir      string
	seedsDir string
}

// NewRunner builds a runner over the given directories. seedsDir may be
// empty when the deployment has no seeds.
func NewRunner(db *sql.DB, dir, seedsDir string) *Runner {
	return &Runner{db: db, dir: dir, seedsDir: seedsDir}
}

// Up applies pending migrations in name order and returns what ran.
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	return r.apply(ctx, kindMigration, r.dir, ".up.sql")
}

// Seed applies pending seed files. Seeds run at most once each, like
// migrations, so re-running is safe.
func (r *Runner) Seed(ctx context.Context) ([]string, error) {
	return r.apply(ctx, kindSeed, r.seedsDir, ".sql")
}

// Down rolls back the most recently applied migration and returns its
// name.
func (r *Runner) Down(ctx context.Context) (string, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return "", err
	}
	history, err := r.History(ctx)
	if err != nil {
		return "", err
	}
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == kindMigration {
			last = history[i].Name
			break
		}
	}
	if last == "" {
		return "", errors.New("no migrations applied")
	}

	downPath := strings.TrimSuffix(filepath.Join(r.dir, last), ".up.sql") + ".down.sql"
	if _, err := os.Stat(downPath); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := r.execFile(ctx, downPath); err != nil {
		return "", fmt.Errorf("rollback %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		`delete from `+historyTable+` where kind=$1 and name=$2`, kindMigration, last)
	if err != nil {
		return "", err
	}
	return last, nil
}

// History returns applied migrations and seeds in application order.
func (r *Runner) History(ctx context.Context) ([]Applied, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`select name, kind, applied_at from `+historyTable+` order by applied_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.Kind, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Runner) apply(ctx context.Context, kind, dir, suffix string) ([]string, error) {
	if err := r.ensureHistory(ctx); err != nil {
		return nil, err
	}
	done, err := r.appliedSet(ctx, kind)
	if err != nil {
		return nil, err
	}
	files, err := listSQL(dir, suffix)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, f := range files {
		if done[f.name] {
			continue
		}
		if err := r.execFile(ctx, f.path); err != nil {
			return ran, fmt.Errorf("apply %s: %w", f.name, err)
		}
		_, err := r.db.ExecContext(ctx,
			`insert into `+historyTable+` (name, kind, applied_at) values ($1, $2, $3)`,
			f.name, kind, time.Now().UTC())
		if err != nil {
			return ran, err
		}
		ran = append(ran, f.name)
	}
	return ran, nil
}

func (r *Runner) ensureHistory(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		create table if not exists `+historyTable+` (
			name text not null,
			kind text not null,
			applied_at timestamptz not null default now(),
			primary key (kind, name)
		)`)
	return err
}

func (r *Runner) appliedSet(ctx context.Context, kind string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`select name from `+historyTable+` where kind=$1`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = true
	}
	return set, rows.Err()
}

// execFile runs every statement of one file inside a transaction.
func (r *Runner) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type sqlFile struct {
	name string
	path string
}

func listSQL(dir, suffix string) ([]sqlFile, error) {
	if dir == "" {
		return nil, nil
	}
	var files []sqlFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		files = append(files, sqlFile{name: d.Name(), path: path})
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// splitStatements splits a file on semicolons, skipping those inside
// single-quoted strings and dollar-quoted bodies. The driver's extended
// protocol refuses multi-statement commands, so files run statement by
// statement.
func splitStatements(input string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inQuote  bool
		inDollar bool
	)
	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' && !inDollar:
			inQuote = !inQuote
			current.WriteRune(r)
		case r == '$' && !inQuote && i+1 < len(runes) && runes[i+1] == '$':
			inDollar = !inDollar
			current.WriteString("$$")
			i++
		case r == ';' && !inQuote && !inDollar:
			current.WriteRune(r)
			stmts = append(stmts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
