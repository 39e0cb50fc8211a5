// Package sqlite persists the tetherbpf ledger: which BPF objects the
// loader processed and which cgroup programs the handler attached.
// The ledger is advisory. The kernel state on bpffs is authoritative;
// the database exists so status tooling can answer "what happened at
// boot" without root access to bpffs.
//
// The store is a plain data access layer. Single-statement methods
// are atomic on their own; ReplaceAttachments wraps its
// delete-then-insert sequence in a transaction. The database opens in
// WAL mode, so status readers never block the daemon's writes.
//
// All SQL uses prepared statements, compiled once at open and bound
// to transactions with tx.StmtContext where needed.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed ledger.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	stmtInsertLoad        *sql.Stmt
	stmtListLoads         *sql.Stmt
	stmtDeleteAttachments *sql.Stmt
	stmtInsertAttachment  *sql.Stmt
	stmtListAttachments   *sql.Stmt
}

// New opens (creating if necessary) the ledger database at dbPath.
func New(ctx context.Context, dbPath string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "store", "db", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn(dbPath, [][2]string{{"journal_mode", "WAL"}, {"foreign_keys", "1"}}))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	log.Info("opened ledger database")
	return s, nil
}

// NewInMemory opens an in-memory ledger for testing.
func NewInMemory(ctx context.Context, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "store", "db", ":memory:")

	db, err := sql.Open(driverName, dsn(":memory:", [][2]string{{"foreign_keys", "1"}}))
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtInsertLoad,
		s.stmtListLoads,
		s.stmtDeleteAttachments,
		s.stmtInsertAttachment,
		s.stmtListAttachments,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error

	const sqlInsertLoad = `
		INSERT INTO load_attempts (stage, object, outcome, detail, elapsed_us, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if s.stmtInsertLoad, err = s.db.Prepare(sqlInsertLoad); err != nil {
		return fmt.Errorf("prepare InsertLoad: %w", err)
	}

	const sqlListLoads = `
		SELECT stage, object, outcome, detail, elapsed_us, created_at
		FROM load_attempts
		ORDER BY id DESC
		LIMIT ?`
	if s.stmtListLoads, err = s.db.Prepare(sqlListLoads); err != nil {
		return fmt.Errorf("prepare ListLoads: %w", err)
	}

	const sqlDeleteAttachments = "DELETE FROM attachments"
	if s.stmtDeleteAttachments, err = s.db.Prepare(sqlDeleteAttachments); err != nil {
		return fmt.Errorf("prepare DeleteAttachments: %w", err)
	}

	const sqlInsertAttachment = `
		INSERT INTO attachments (program, attach_type, cgroup_path, program_id, attached_at)
		VALUES (?, ?, ?, ?, ?)`
	if s.stmtInsertAttachment, err = s.db.Prepare(sqlInsertAttachment); err != nil {
		return fmt.Errorf("prepare InsertAttachment: %w", err)
	}

	const sqlListAttachments = `
		SELECT program, attach_type, cgroup_path, program_id, attached_at
		FROM attachments
		ORDER BY program`
	if s.stmtListAttachments, err = s.db.Prepare(sqlListAttachments); err != nil {
		return fmt.Errorf("prepare ListAttachments: %w", err)
	}

	return nil
}

// inTransaction runs fn inside a transaction, committing on nil and
// rolling back on error.
func (s *Store) inTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// timestamp formats t the way the ledger stores times.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp is the inverse of timestamp. Unparseable values come
// back zero rather than failing the whole read.
func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
