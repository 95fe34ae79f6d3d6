package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"mediavault/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrContentExists      = errors.New("content record already exists")
	ErrContentNotFound    = errors.New("content record not found")
)

type dataset struct {
	Accounts map[string]models.Account       `json:"accounts"`
	Content  map[string]models.ContentRecord `json:"contentRecords"`
}

// Storage is the JSON-file backed datastore used for development and
// single-instance deployments. All mutations persist the full dataset via an
// atomic temp-file rename before they are visible to readers.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	clock    func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Accounts: make(map[string]models.Account),
		Content:  make(map[string]models.ContentRecord),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Accounts == nil {
		s.data.Accounts = make(map[string]models.Account)
	}
	if s.data.Content == nil {
		s.data.Content = make(map[string]models.ContentRecord)
	}
}

// CreateAccountParams captures the attributes set when provisioning an account.
type CreateAccountParams struct {
	Username string
	Password string
	Role     string
}

// ContentUpdate describes a partial update applied to a content record. Nil
// fields are left untouched; UpdatedBy stamps LastUpdatedBy on the record.
type ContentUpdate struct {
	SubTitle   *string
	AudioTrack *string
	Dash       *models.ManifestLocation
	HLS        *models.ManifestLocation
	DRM        *models.DRMInfo
	Quality    *[]string
	UpdatedBy  string
}

// NewStorage opens the JSON datastore at the provided path, creating the
// parent directory and an empty dataset when the file does not exist.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for username, account := range src.Accounts {
		clone.Accounts[username] = account
	}
	for id, record := range src.Content {
		clone.Content[id] = cloneContentRecord(record)
	}
	return clone
}

func cloneContentRecord(record models.ContentRecord) models.ContentRecord {
	cloned := record
	if record.Quality != nil {
		cloned.Quality = append([]string(nil), record.Quality...)
	}
	return cloned
}

// Ping reports whether the backing file remains writable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.filePath)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

// CreateAccount provisions a new account with a hashed password.
func (s *Storage) CreateAccount(params CreateAccountParams) (models.Account, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Accounts[username]; exists {
		return models.Account{}, ErrAccountExists
	}

	account := models.Account{
		Username:     username,
		PasswordHash: hashed,
		Role:         params.Role,
		CreatedAt:    s.clock(),
	}

	updated := cloneDataset(s.data)
	updated.Accounts[username] = account
	if err := s.persistDataset(updated); err != nil {
		return models.Account{}, err
	}
	s.data = updated

	return account, nil
}

// GetAccount returns the account for the provided username.
func (s *Storage) GetAccount(username string) (models.Account, error) {
	s.mu.RLock()
	account, ok := s.data.Accounts[username]
	s.mu.RUnlock()
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	return account, nil
}

// ListAccounts returns all accounts ordered by username.
func (s *Storage) ListAccounts() ([]models.Account, error) {
	s.mu.RLock()
	accounts := make([]models.Account, 0, len(s.data.Accounts))
	for _, account := range s.data.Accounts {
		accounts = append(accounts, account)
	}
	s.mu.RUnlock()
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts, nil
}

// SetAccountPassword replaces the stored password hash for the provided account.
func (s *Storage) SetAccountPassword(username, password string) (models.Account, error) {
	if len(password) < 8 {
		return models.Account{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.data.Accounts[username]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	account.PasswordHash = hashed

	updated := cloneDataset(s.data)
	updated.Accounts[username] = account
	if err := s.persistDataset(updated); err != nil {
		return models.Account{}, err
	}
	s.data = updated

	return account, nil
}

// SetAccountRole replaces the role on the provided account. Live sessions keep
// the role they were issued with until they expire or log out.
func (s *Storage) SetAccountRole(username, role string) (models.Account, error) {
	if !models.ValidRole(role) {
		return models.Account{}, fmt.Errorf("unsupported role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.data.Accounts[username]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	account.Role = role

	updated := cloneDataset(s.data)
	updated.Accounts[username] = account
	if err := s.persistDataset(updated); err != nil {
		return models.Account{}, err
	}
	s.data = updated

	return account, nil
}

// DeleteAccount removes the account for the provided username.
func (s *Storage) DeleteAccount(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[username]; !ok {
		return ErrAccountNotFound
	}

	updated := cloneDataset(s.data)
	delete(updated.Accounts, username)
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// CreateContent inserts a new content record keyed by its ContentID.
func (s *Storage) CreateContent(record models.ContentRecord) (models.ContentRecord, error) {
	if err := record.Validate(); err != nil {
		return models.ContentRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Content[record.ContentID]; exists {
		return models.ContentRecord{}, ErrContentExists
	}

	if record.LastUpdated.IsZero() {
		record.LastUpdated = s.clock()
	}

	updated := cloneDataset(s.data)
	updated.Content[record.ContentID] = cloneContentRecord(record)
	if err := s.persistDataset(updated); err != nil {
		return models.ContentRecord{}, err
	}
	s.data = updated

	return record, nil
}

// GetContent returns the content record for the provided identifier.
func (s *Storage) GetContent(contentID string) (models.ContentRecord, error) {
	s.mu.RLock()
	record, ok := s.data.Content[contentID]
	s.mu.RUnlock()
	if !ok {
		return models.ContentRecord{}, ErrContentNotFound
	}
	return cloneContentRecord(record), nil
}

// ListContent returns all content records ordered by ContentID.
func (s *Storage) ListContent() ([]models.ContentRecord, error) {
	s.mu.RLock()
	records := make([]models.ContentRecord, 0, len(s.data.Content))
	for _, record := range s.data.Content {
		records = append(records, cloneContentRecord(record))
	}
	s.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool { return records[i].ContentID < records[j].ContentID })
	return records, nil
}

// UpdateContent applies a partial update to the content record. The update
// time and actor are stamped only when the patch changes the stored record,
// so repeating the same patch leaves the record exactly as the first call
// stored it.
func (s *Storage) UpdateContent(contentID string, update ContentUpdate) (models.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.Content[contentID]
	if !ok {
		return models.ContentRecord{}, ErrContentNotFound
	}

	record := cloneContentRecord(existing)
	applyContentUpdate(&record, update)
	if err := record.Validate(); err != nil {
		return models.ContentRecord{}, err
	}
	if reflect.DeepEqual(record, existing) {
		return cloneContentRecord(existing), nil
	}

	record.LastUpdated = s.clock()
	if update.UpdatedBy != "" {
		record.LastUpdatedBy = update.UpdatedBy
	}

	updated := cloneDataset(s.data)
	updated.Content[contentID] = record
	if err := s.persistDataset(updated); err != nil {
		return models.ContentRecord{}, err
	}
	s.data = updated

	return record, nil
}

func applyContentUpdate(record *models.ContentRecord, update ContentUpdate) {
	if update.SubTitle != nil {
		record.SubTitle = *update.SubTitle
	}
	if update.AudioTrack != nil {
		record.AudioTrack = *update.AudioTrack
	}
	if update.Dash != nil {
		record.Dash = *update.Dash
	}
	if update.HLS != nil {
		record.HLS = *update.HLS
	}
	if update.DRM != nil {
		record.DRM = *update.DRM
	}
	if update.Quality != nil {
		record.Quality = append([]string(nil), (*update.Quality)...)
	}
}

// DeleteContent removes the content record for the provided identifier.
func (s *Storage) DeleteContent(contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Content[contentID]; !ok {
		return ErrContentNotFound
	}

	updated := cloneDataset(s.data)
	delete(updated.Content, contentID)
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}
