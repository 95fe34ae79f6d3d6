package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5"

	"mediavault/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the datastore so it
// can be exported from one backing store and replayed into another.
type Snapshot struct {
	Accounts map[string]models.Account       `json:"accounts"`
	Content  map[string]models.ContentRecord `json:"contentRecords"`
}

// SnapshotCounts summarises the size of each collection stored in a Snapshot.
type SnapshotCounts struct {
	Accounts int
	Content  int
}

// ExportSnapshot returns a deep copy of the JSON store's current dataset.
func (s *Storage) ExportSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cloned := cloneDataset(s.data)
	return &Snapshot{Accounts: cloned.Accounts, Content: cloned.Content}
}

// LoadSnapshotFromJSON reads a previously exported Snapshot from disk.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Accounts == nil {
		s.Accounts = make(map[string]models.Account)
	}
	if s.Content == nil {
		s.Content = make(map[string]models.ContentRecord)
	}
}

// Counts reports how many entities of each type the Snapshot holds.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	return SnapshotCounts{Accounts: len(s.Accounts), Content: len(s.Content)}
}

// ImportSnapshotToPostgres hands a Snapshot to the postgres repository so the
// serialised datastore state can be bulk-loaded into Postgres.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	pgRepo, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("postgres repository required for snapshot import")
	}
	snapshot.ensureInitialized()
	return pgRepo.importSnapshot(ctx, snapshot)
}

func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin snapshot import: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, account := range snapshot.Accounts {
		if _, err := tx.Exec(ctx, `
INSERT INTO accounts (username, password_hash, role, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role, created_at = EXCLUDED.created_at
`, account.Username, account.PasswordHash, account.Role, account.CreatedAt); err != nil {
			return fmt.Errorf("import account %s: %w", account.Username, err)
		}
	}

	for _, record := range snapshot.Content {
		document, err := encodeContentDocument(record)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO content_records (content_id, document, last_updated, last_updated_by)
VALUES ($1, $2, $3, $4)
ON CONFLICT (content_id) DO UPDATE SET document = EXCLUDED.document, last_updated = EXCLUDED.last_updated, last_updated_by = EXCLUDED.last_updated_by
`, record.ContentID, document, record.LastUpdated, record.LastUpdatedBy); err != nil {
			return fmt.Errorf("import content record %s: %w", record.ContentID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot import: %w", err)
	}
	return nil
}
