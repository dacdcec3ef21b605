// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package aotstore keeps ahead-of-time compilation artifacts in a SQLite database, so they can be
// loaded later, possibly by another process.
//
// Artifacts are keyed by the fingerprint of the program they were compiled from and the
// partition number.
package aotstore

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/gomlx/xlaservice/backends"
	"github.com/gomlx/xlaservice/xla/hlo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by Get when there is no artifact for the key.
var ErrNotFound = errors.New("artifact not found")

// Entry is one stored artifact.
type Entry struct {
	Fingerprint string
	Partition   int
	ArtifactID  string
	ProgramName string
	Platform    string
	CreatedAt   time.Time

	// Data is the serialized artifact. List leaves it empty.
	Data []byte

	// Size of Data in bytes.
	Size int
}

// Store of AOT artifacts backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at the given path.
//
// The database is configured with WAL mode and a 5-second busy timeout.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %q", path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to connect to database %q", path)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "failed to execute %q", pragma)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to apply schema")
	}
	return &Store{db: db}, nil
}

// Close the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return errors.WithStack(err)
}

// execer is implemented by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func validateEntry(entry Entry) error {
	if entry.Fingerprint == "" || entry.ArtifactID == "" {
		return errors.Errorf("artifact entry needs a fingerprint and an artifact id, got %q and %q",
			entry.Fingerprint, entry.ArtifactID)
	}
	if entry.Partition < 0 {
		return errors.Errorf("invalid partition %d for artifact %s", entry.Partition, entry.ArtifactID)
	}
	return nil
}

func upsert(ctx context.Context, exec execer, entry Entry) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO artifacts (fingerprint, partition_index, artifact_id, program_name, platform, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint, partition_index) DO UPDATE SET
			artifact_id = excluded.artifact_id,
			program_name = excluded.program_name,
			platform = excluded.platform,
			created_at = excluded.created_at,
			data = excluded.data`,
		entry.Fingerprint, entry.Partition, entry.ArtifactID, entry.ProgramName, entry.Platform,
		entry.CreatedAt.UnixNano(), entry.Data)
	if err != nil {
		return errors.Wrapf(err, "failed to store artifact %s", entry.ArtifactID)
	}
	klog.V(2).Infof("aotstore: stored artifact %s for %q partition %d (%d bytes)",
		entry.ArtifactID, entry.ProgramName, entry.Partition, len(entry.Data))
	return nil
}

// Put stores the entry, replacing any previous artifact with the same fingerprint and partition.
// If CreatedAt is zero, the current time is used.
func (s *Store) Put(ctx context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return upsert(ctx, s.db, entry)
}

// PutResults stores the artifacts compiled from the program, one per partition in order, and
// returns the program fingerprint they are stored under.
//
// The artifacts replace the whole set previously stored for the fingerprint, in one transaction:
// partitions from an earlier compilation with more partitions are removed.
//
// If onStored is not nil, it is called for each artifact once the transaction is committed.
func (s *Store) PutResults(ctx context.Context, program *hlo.ModuleProto, platform string,
	results []backends.AotCompilationResult, onStored func(entry Entry)) (fingerprint string, err error) {
	fingerprint, err = program.Fingerprint()
	if err != nil {
		return "", err
	}
	now := time.Now()
	entries := make([]Entry, 0, len(results))
	for partition, result := range results {
		data, err := result.SerializeAsString()
		if err != nil {
			return "", errors.WithMessagef(err, "partition %d of %q", partition, program.Name)
		}
		entry := Entry{
			Fingerprint: fingerprint,
			Partition:   partition,
			ArtifactID:  result.ID(),
			ProgramName: program.Name,
			Platform:    platform,
			CreatedAt:   now,
			Data:        data,
			Size:        len(data),
		}
		if err = validateEntry(entry); err != nil {
			return "", err
		}
		entries = append(entries, entry)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM artifacts WHERE fingerprint = ?`, fingerprint); err != nil {
		return "", errors.Wrapf(err, "failed to replace artifacts for fingerprint %s", fingerprint)
	}
	for _, entry := range entries {
		if err = upsert(ctx, tx, entry); err != nil {
			return "", err
		}
	}
	if err = tx.Commit(); err != nil {
		return "", errors.Wrapf(err, "failed to commit artifacts for fingerprint %s", fingerprint)
	}
	if onStored != nil {
		for _, entry := range entries {
			onStored(entry)
		}
	}
	return fingerprint, nil
}

// Get returns the artifact for the fingerprint and partition, or ErrNotFound.
func (s *Store) Get(ctx context.Context, fingerprint string, partition int) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT artifact_id, program_name, platform, created_at, data
		FROM artifacts WHERE fingerprint = ? AND partition_index = ?`, fingerprint, partition)
	entry := &Entry{Fingerprint: fingerprint, Partition: partition}
	var createdAt int64
	err := row.Scan(&entry.ArtifactID, &entry.ProgramName, &entry.Platform, &createdAt, &entry.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithMessagef(ErrNotFound, "fingerprint %s, partition %d", fingerprint, partition)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read artifact for fingerprint %s, partition %d", fingerprint, partition)
	}
	entry.CreatedAt = time.Unix(0, createdAt)
	entry.Size = len(entry.Data)
	return entry, nil
}

// List returns all entries without their data, ordered by program name, fingerprint and partition.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, partition_index, artifact_id, program_name, platform, created_at, length(data)
		FROM artifacts ORDER BY program_name, fingerprint, partition_index`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list artifacts")
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var createdAt int64
		if err := rows.Scan(&entry.Fingerprint, &entry.Partition, &entry.ArtifactID, &entry.ProgramName,
			&entry.Platform, &createdAt, &entry.Size); err != nil {
			return nil, errors.Wrap(err, "failed to scan artifact")
		}
		entry.CreatedAt = time.Unix(0, createdAt)
		entries = append(entries, entry)
	}
	return entries, errors.WithStack(rows.Err())
}

// Delete removes all the artifacts of the fingerprint, and returns how many were removed.
func (s *Store) Delete(ctx context.Context, fingerprint string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to delete artifacts for fingerprint %s", fingerprint)
	}
	count, err := result.RowsAffected()
	return int(count), errors.WithStack(err)
}
