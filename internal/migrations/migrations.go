// Package migrations owns the schema of the history database. Scripts are
// embedded from sql/ as NNNNNN_name.up.sql and NNNNNN_name.down.sql pairs.
// The ledger table records each applied version with its name and a checksum
// of the up script, so an edited script shows up as drifted in Status.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const ledgerTable = "askdb_schema_migrations"

// lockKey is the advisory lock every migration transaction takes, so two
// askdb-migrate jobs against one database apply each script once.
const lockKey int64 = 0x61736b6462

var scriptNamePattern = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

type script struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (s script) checksum() string {
	sum := sha256.Sum256([]byte(s.Up))
	return hex.EncodeToString(sum[:])
}

func (s script) String() string {
	return fmt.Sprintf("%06d_%s", s.Version, s.Name)
}

// Status is one embedded script and its ledger state. Drifted means the
// script changed after it was applied.
type Status struct {
	Version int64
	Name    string
	Applied bool
	Drifted bool
}

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// state pairs the embedded scripts with the ledger, keyed by version with the
// recorded checksum as value.
type state struct {
	scripts []script
	applied map[int64]string
}

func (r *Runner) load(ctx context.Context, db *sql.DB) (state, error) {
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return state{}, err
	}
	if err := ensureLedger(ctx, db); err != nil {
		return state{}, err
	}
	applied, err := readLedger(ctx, db)
	if err != nil {
		return state{}, err
	}
	return state{scripts: scripts, applied: applied}, nil
}

// Up applies pending scripts in version order, at most steps of them when
// steps > 0, and returns how many it applied.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	st, err := r.load(ctx, db)
	if err != nil {
		return 0, err
	}
	var pending []script
	for _, item := range st.scripts {
		if _, ok := st.applied[item.Version]; !ok {
			pending = append(pending, item)
		}
	}
	if steps > 0 && len(pending) > steps {
		pending = pending[:steps]
	}

	count := 0
	for _, item := range pending {
		ran, err := lockedStep(ctx, db, item.Version, false, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, item.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO `+ledgerTable+` (version, name, checksum) VALUES ($1, $2, $3)`,
				item.Version, item.Name, item.checksum())
			return err
		})
		if err != nil {
			return count, fmt.Errorf("apply %s: %w", item, err)
		}
		if ran {
			count++
		}
	}
	return count, nil
}

// Down rolls back the newest applied scripts, one when steps <= 0.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	st, err := r.load(ctx, db)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]script, len(st.scripts))
	for _, item := range st.scripts {
		byVersion[item.Version] = item
	}
	versions := make([]int64, 0, len(st.applied))
	for version := range st.applied {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	if len(versions) > steps {
		versions = versions[:steps]
	}

	count := 0
	for _, version := range versions {
		item, ok := byVersion[version]
		if !ok {
			return count, fmt.Errorf("applied migration %d has no embedded script", version)
		}
		ran, err := lockedStep(ctx, db, version, true, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, item.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM `+ledgerTable+` WHERE version = $1`, version)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("roll back %s: %w", item, err)
		}
		if ran {
			count++
		}
	}
	return count, nil
}

// Status lists every embedded script in version order. A ledger version with
// no embedded script is an error; the list is still returned.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	st, err := r.load(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(st.scripts))
	known := make(map[int64]bool, len(st.scripts))
	for _, item := range st.scripts {
		known[item.Version] = true
		recorded, applied := st.applied[item.Version]
		out = append(out, Status{
			Version: item.Version,
			Name:    item.Name,
			Applied: applied,
			Drifted: applied && recorded != "" && recorded != item.checksum(),
		})
	}
	var unknown []int64
	for version := range st.applied {
		if !known[version] {
			unknown = append(unknown, version)
		}
	}
	if len(unknown) > 0 {
		sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
		return out, fmt.Errorf("applied migrations %v have no embedded script", unknown)
	}
	return out, nil
}

// lockedStep runs fn in a transaction holding the advisory lock, after
// re-reading the ledger. fn is skipped when another runner already moved the
// version to the wanted state; ran reports whether fn executed.
func lockedStep(ctx context.Context, db *sql.DB, version int64, wantApplied bool, fn func(*sql.Tx) error) (ran bool, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return false, fmt.Errorf("lock: %w", err)
	}
	var applied bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+ledgerTable+` WHERE version = $1)`, version).Scan(&applied); err != nil {
		return false, fmt.Errorf("recheck ledger: %w", err)
	}
	if applied != wantApplied {
		return false, nil
	}
	if err := fn(tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func ensureLedger(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("ensure %s: %w", ledgerTable, err)
	}
	return nil
}

func readLedger(ctx context.Context, db *sql.DB) (map[int64]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM `+ledgerTable+` ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ledgerTable, err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan %s: %w", ledgerTable, err)
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", ledgerTable, err)
	}
	return applied, nil
}

// loadScripts pairs the up and down files of each version. Files that do not
// follow the naming scheme are ignored; a version with one half missing, or
// with two different names, is an error.
func loadScripts(fsys fs.FS) ([]script, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read embedded scripts: %w", err)
	}

	byVersion := map[int64]*script{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := scriptNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("script %s: version: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &script{Version: version, Name: m[2]}
			byVersion[version] = item
		} else if item.Name != m[2] {
			return nil, fmt.Errorf("version %d is named both %q and %q", version, item.Name, m[2])
		}
		if m[3] == "up" {
			item.Up = string(body)
		} else {
			item.Down = string(body)
		}
	}

	scripts := make([]script, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.Up) == "" {
			return nil, fmt.Errorf("%s: missing up script", item)
		}
		if strings.TrimSpace(item.Down) == "" {
			return nil, fmt.Errorf("%s: missing down script", item)
		}
		scripts = append(scripts, *item)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Version < scripts[j].Version })
	return scripts, nil
}
