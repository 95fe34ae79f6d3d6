// Package models defines the core domain records shared across the service.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRecord marks validation failures so callers can tell a rejected
// record apart from a store failure.
var ErrInvalidRecord = errors.New("invalid record")

// Roles recognised by the authorization policy. Accounts carry exactly one.
const (
	RoleAdmin    = "admin"
	RoleNonAdmin = "nonadmin"
)

// ValidRole reports whether the provided role is one the service recognises.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleNonAdmin:
		return true
	}
	return false
}

// Account represents an operator credential. Accounts are provisioned
// out-of-band; the API offers no self-service registration or password change.
type Account struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Quality flags accepted on a content record.
const (
	QualityHDR   = "HDR"
	QualityHD    = "HD"
	QualityATMOS = "ATMOS"
)

// ManifestLocation points at a packaged rendition of a title, as a root folder
// plus the manifest file within it.
type ManifestLocation struct {
	RootFolder string `json:"RootFolder,omitempty"`
	Manifest   string `json:"Manifest,omitempty"`
}

// DRMInfo carries the license acquisition details for a protected title.
type DRMInfo struct {
	ResourceURL string `json:"ResourceURL,omitempty"`
	KeyID       string `json:"KeyID,omitempty"`
}

// ContentRecord holds the streaming metadata for a single title. Field names
// keep the wire casing established by the upstream catalogue feeds.
type ContentRecord struct {
	ContentID     string           `json:"ContentID"`
	SubTitle      string           `json:"SubTitle,omitempty"`
	AudioTrack    string           `json:"AudioTrack"`
	Dash          ManifestLocation `json:"Dash,omitempty"`
	HLS           ManifestLocation `json:"HLS,omitempty"`
	DRM           DRMInfo          `json:"DRM,omitempty"`
	Quality       []string         `json:"Quality,omitempty"`
	LastUpdated   time.Time        `json:"LastUpdated"`
	LastUpdatedBy string           `json:"LastUpdatedBy,omitempty"`
}

// Validate checks the record's required fields and quality flags.
func (c ContentRecord) Validate() error {
	if strings.TrimSpace(c.ContentID) == "" {
		return fmt.Errorf("%w: ContentID is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(c.AudioTrack) == "" {
		return fmt.Errorf("%w: AudioTrack is required", ErrInvalidRecord)
	}
	for _, quality := range c.Quality {
		switch quality {
		case QualityHDR, QualityHD, QualityATMOS:
		default:
			return fmt.Errorf("%w: unsupported quality flag %q", ErrInvalidRecord, quality)
		}
	}
	return nil
}
