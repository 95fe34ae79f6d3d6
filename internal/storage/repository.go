package storage

import (
	"context"

	"mediavault/internal/models"
)

// Repository exposes the datastore operations required by the API handlers
// and the provisioning tools.
type Repository interface {
	Ping(ctx context.Context) error

	CreateAccount(params CreateAccountParams) (models.Account, error)
	AuthenticateAccount(username, password string) (models.Account, error)
	GetAccount(username string) (models.Account, error)
	ListAccounts() ([]models.Account, error)
	SetAccountPassword(username, password string) (models.Account, error)
	SetAccountRole(username, role string) (models.Account, error)
	DeleteAccount(username string) error

	CreateContent(record models.ContentRecord) (models.ContentRecord, error)
	GetContent(contentID string) (models.ContentRecord, error)
	ListContent() ([]models.ContentRecord, error)
	UpdateContent(contentID string, update ContentUpdate) (models.ContentRecord, error)
	DeleteContent(contentID string) error
}

var _ Repository = (*Storage)(nil)
