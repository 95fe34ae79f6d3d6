package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediavault/internal/models"
)

// postgresRepository implements Repository against a Postgres database. The
// content document is stored as JSONB so the nested manifest and DRM blocks
// round-trip without a column per field.
type postgresRepository struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	clock          func() time.Time
}

// NewPostgresRepository opens a pooled Postgres connection using the provided
// DSN and ensures the schema exists.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if name := strings.TrimSpace(cfg.ApplicationName); name != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = name
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{
		pool:           pool,
		acquireTimeout: cfg.AcquireTimeout,
		clock:          cfg.Clock,
	}
	if err := repo.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, nil
}

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
    username TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    role TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS content_records (
    content_id TEXT PRIMARY KEY,
    document JSONB NOT NULL,
    last_updated TIMESTAMPTZ NOT NULL,
    last_updated_by TEXT NOT NULL DEFAULT ''
)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool, bounded by the provided context.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	if r.acquireTimeout > 0 {
		return context.WithTimeout(context.Background(), r.acquireTimeout)
	}
	return context.Background(), func() {}
}

// Ping verifies database connectivity.
func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateAccount provisions a new account with a hashed password.
func (r *postgresRepository) CreateAccount(params CreateAccountParams) (models.Account, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.Account{}, errors.New("username is required")
	}
	if len(params.Password) < 8 {
		return models.Account{}, errors.New("password must be at least 8 characters")
	}
	if !models.ValidRole(params.Role) {
		return models.Account{}, fmt.Errorf("unsupported role %q", params.Role)
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	account := models.Account{
		Username:     username,
		PasswordHash: hashed,
		Role:         params.Role,
		CreatedAt:    r.clock(),
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO accounts (username, password_hash, role, created_at)
VALUES ($1, $2, $3, $4)
`, account.Username, account.PasswordHash, account.Role, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Account{}, ErrAccountExists
		}
		return models.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

// AuthenticateAccount verifies credentials against the accounts table. Unknown
// usernames and mismatched passwords both yield ErrInvalidCredentials.
func (r *postgresRepository) AuthenticateAccount(username, password string) (models.Account, error) {
	if password == "" {
		return models.Account{}, ErrInvalidCredentials
	}
	account, err := r.GetAccount(username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return models.Account{}, ErrInvalidCredentials
		}
		return models.Account{}, err
	}
	if err := verifyPassword(account.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.Account{}, ErrInvalidCredentials
		}
		return models.Account{}, err
	}
	return account, nil
}

// GetAccount returns the account for the provided username.
func (r *postgresRepository) GetAccount(username string) (models.Account, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `
SELECT username, password_hash, role, created_at
FROM accounts
WHERE username = $1
`, username)
	var account models.Account
	if err := row.Scan(&account.Username, &account.PasswordHash, &account.Role, &account.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("select account: %w", err)
	}
	return account, nil
}

// ListAccounts returns all accounts ordered by username.
func (r *postgresRepository) ListAccounts() ([]models.Account, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `
SELECT username, password_hash, role, created_at
FROM accounts
ORDER BY username
`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(&account.Username, &account.PasswordHash, &account.Role, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// SetAccountPassword replaces the stored password hash for the provided account.
func (r *postgresRepository) SetAccountPassword(username, password string) (models.Account, error) {
	if len(password) < 8 {
		return models.Account{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE username = $1`, username, hashed)
	if err != nil {
		return models.Account{}, fmt.Errorf("update account password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Account{}, ErrAccountNotFound
	}
	return r.GetAccount(username)
}

// SetAccountRole replaces the role on the provided account. Live sessions keep
// the role they were issued with until they expire or log out.
func (r *postgresRepository) SetAccountRole(username, role string) (models.Account, error) {
	if !models.ValidRole(role) {
		return models.Account{}, fmt.Errorf("unsupported role %q", role)
	}

	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET role = $2 WHERE username = $1`, username, role)
	if err != nil {
		return models.Account{}, fmt.Errorf("update account role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Account{}, ErrAccountNotFound
	}
	return r.GetAccount(username)
}

// DeleteAccount removes the account for the provided username.
func (r *postgresRepository) DeleteAccount(username string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func encodeContentDocument(record models.ContentRecord) ([]byte, error) {
	document, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode content document: %w", err)
	}
	return document, nil
}

func decodeContentDocument(document []byte) (models.ContentRecord, error) {
	var record models.ContentRecord
	if err := json.Unmarshal(document, &record); err != nil {
		return models.ContentRecord{}, fmt.Errorf("decode content document: %w", err)
	}
	return record, nil
}

// CreateContent inserts a new content record keyed by its ContentID.
func (r *postgresRepository) CreateContent(record models.ContentRecord) (models.ContentRecord, error) {
	if err := record.Validate(); err != nil {
		return models.ContentRecord{}, err
	}
	if record.LastUpdated.IsZero() {
		record.LastUpdated = r.clock()
	}

	document, err := encodeContentDocument(record)
	if err != nil {
		return models.ContentRecord{}, err
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err = r.pool.Exec(ctx, `
INSERT INTO content_records (content_id, document, last_updated, last_updated_by)
VALUES ($1, $2, $3, $4)
`, record.ContentID, document, record.LastUpdated, record.LastUpdatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ContentRecord{}, ErrContentExists
		}
		return models.ContentRecord{}, fmt.Errorf("insert content record: %w", err)
	}
	return record, nil
}

// GetContent returns the content record for the provided identifier.
func (r *postgresRepository) GetContent(contentID string) (models.ContentRecord, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT document FROM content_records WHERE content_id = $1`, contentID)
	var document []byte
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ContentRecord{}, ErrContentNotFound
		}
		return models.ContentRecord{}, fmt.Errorf("select content record: %w", err)
	}
	return decodeContentDocument(document)
}

// ListContent returns all content records ordered by ContentID.
func (r *postgresRepository) ListContent() ([]models.ContentRecord, error) {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT document FROM content_records ORDER BY content_id`)
	if err != nil {
		return nil, fmt.Errorf("select content records: %w", err)
	}
	defer rows.Close()

	var records []models.ContentRecord
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scan content record: %w", err)
		}
		record, err := decodeContentDocument(document)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content records: %w", err)
	}
	return records, nil
}

// UpdateContent applies a partial update inside a transaction so concurrent
// patches to the same record serialise on the row lock. A patch that changes
// nothing skips the write, keeping repeated updates from restamping the
// record.
func (r *postgresRepository) UpdateContent(contentID string, update ContentUpdate) (models.ContentRecord, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ContentRecord{}, fmt.Errorf("begin content update: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `SELECT document FROM content_records WHERE content_id = $1 FOR UPDATE`, contentID)
	var document []byte
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ContentRecord{}, ErrContentNotFound
		}
		return models.ContentRecord{}, fmt.Errorf("select content record: %w", err)
	}

	existing, err := decodeContentDocument(document)
	if err != nil {
		return models.ContentRecord{}, err
	}

	record := existing
	record.Quality = append([]string(nil), existing.Quality...)
	applyContentUpdate(&record, update)
	if err := record.Validate(); err != nil {
		return models.ContentRecord{}, err
	}
	if reflect.DeepEqual(record, existing) {
		return existing, nil
	}

	record.LastUpdated = r.clock()
	if update.UpdatedBy != "" {
		record.LastUpdatedBy = update.UpdatedBy
	}

	encoded, err := encodeContentDocument(record)
	if err != nil {
		return models.ContentRecord{}, err
	}
	if _, err := tx.Exec(ctx, `
UPDATE content_records
SET document = $2, last_updated = $3, last_updated_by = $4
WHERE content_id = $1
`, contentID, encoded, record.LastUpdated, record.LastUpdatedBy); err != nil {
		return models.ContentRecord{}, fmt.Errorf("update content record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.ContentRecord{}, fmt.Errorf("commit content update: %w", err)
	}
	return record, nil
}

// DeleteContent removes the content record for the provided identifier.
func (r *postgresRepository) DeleteContent(contentID string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM content_records WHERE content_id = $1`, contentID)
	if err != nil {
		return fmt.Errorf("delete content record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContentNotFound
	}
	return nil
}
