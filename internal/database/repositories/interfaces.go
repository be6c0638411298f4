package repositories

import (
	"context"
	"errors"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// ConfigEntryRepository defines config entry data access methods
type ConfigEntryRepository interface {
	Create(ctx context.Context, entry *models.ConfigEntry) error
	Get(ctx context.Context, id string) (*models.ConfigEntry, error)
	List(ctx context.Context) ([]*models.ConfigEntry, error)
	Update(ctx context.Context, entry *models.ConfigEntry) error
	SetState(ctx context.Context, id string, state models.ConfigEntryState, lastError string) error
	Delete(ctx context.Context, id string) error
}
