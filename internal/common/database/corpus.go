// internal/common/database/corpus.go
package database

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"jira-support-bot/internal/common/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// openDB is swapped in tests.
var openDB = sqlx.Open

// PassageRow is one pre-indexed documentation chunk. Embedding holds the
// vector as a JSON array.
type PassageRow struct {
	ID        string `db:"id"`
	Content   string `db:"content"`
	Title     string `db:"title"`
	SourceURL string `db:"source_url"`
	Embedding string `db:"embedding"`
}

// CorpusDB is the SQL store written by the indexing pipeline and read once
// at startup.
type CorpusDB struct {
	DB    *sqlx.DB
	table string
}

// NewCorpusDB opens the configured corpus store.
func NewCorpusDB(cfg config.CorpusConfig) (*CorpusDB, error) {
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid corpus table name %q", cfg.Table)
	}

	db, err := openDB(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus store %s: %w", cfg.Driver, err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	return &CorpusDB{DB: db, table: cfg.Table}, nil
}

// NewCorpusDBFrom wraps an existing handle.
func NewCorpusDBFrom(db *sqlx.DB, table string) (*CorpusDB, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid corpus table name %q", table)
	}
	return &CorpusDB{DB: db, table: table}, nil
}

// Ping tests the database connection
func (c *CorpusDB) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *CorpusDB) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// EnsureSchema creates the passages table if it does not exist.
func (c *CorpusDB) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	embedding TEXT NOT NULL
)`, c.table)
	if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create corpus table: %w", err)
	}
	return nil
}

// LoadPassages reads the whole corpus.
func (c *CorpusDB) LoadPassages(ctx context.Context) ([]PassageRow, error) {
	query := fmt.Sprintf("SELECT id, content, title, source_url, embedding FROM %s ORDER BY id", c.table)

	var rows []PassageRow
	if err := c.DB.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	return rows, nil
}

// UpsertPassages writes rows in a single transaction.
func (c *CorpusDB) UpsertPassages(ctx context.Context, rows []PassageRow) error {
	tx, err := c.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin corpus transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	del := c.DB.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table))
	ins := fmt.Sprintf(
		"INSERT INTO %s (id, content, title, source_url, embedding) VALUES (:id, :content, :title, :source_url, :embedding)",
		c.table,
	)

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, del, row.ID); err != nil {
			return fmt.Errorf("replace passage %s: %w", row.ID, err)
		}
		if _, err := tx.NamedExecContext(ctx, ins, row); err != nil {
			return fmt.Errorf("insert passage %s: %w", row.ID, err)
		}
	}

	return tx.Commit()
}
