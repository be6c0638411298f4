package models

import (
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
)

// ConfigEntryState tracks where an entry is in its setup lifecycle
type ConfigEntryState string

const (
	EntryStateNotLoaded  ConfigEntryState = "not_loaded"
	EntryStateLoaded     ConfigEntryState = "loaded"
	EntryStateSetupRetry ConfigEntryState = "setup_retry"
	EntryStateSetupError ConfigEntryState = "setup_error"
)

// ConfigEntry is a persisted SwitchBot account
type ConfigEntry struct {
	ID        string           `json:"id" db:"id"`
	Title     string           `json:"title" db:"title"`
	APIToken  string           `json:"-" db:"api_token"`
	APISecret string           `json:"-" db:"api_secret"`
	State     ConfigEntryState `json:"state" db:"state"`
	LastError string           `json:"last_error,omitempty" db:"last_error"`
	Disabled  bool             `json:"disabled" db:"disabled"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// Credentials returns the account credentials of the entry
func (e *ConfigEntry) Credentials() devices.Credentials {
	return devices.Credentials{Token: e.APIToken, Secret: e.APISecret}
}
