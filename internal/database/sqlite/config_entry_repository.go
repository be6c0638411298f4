package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/models"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/repositories"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const configEntryColumns = `id, title, api_token, api_secret, state, last_error, disabled, created_at, updated_at`

// ConfigEntryRepository implements repositories.ConfigEntryRepository
type ConfigEntryRepository struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// NewConfigEntryRepository creates a new ConfigEntryRepository
func NewConfigEntryRepository(db *sqlx.DB, log *logrus.Logger) repositories.ConfigEntryRepository {
	return &ConfigEntryRepository{db: db, log: log}
}

// Create inserts a new entry. The API token is unique across entries.
func (r *ConfigEntryRepository) Create(ctx context.Context, entry *models.ConfigEntry) error {
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.State == "" {
		entry.State = models.EntryStateNotLoaded
	}

	query := `INSERT INTO config_entries (` + configEntryColumns + `)
		VALUES (:id, :title, :api_token, :api_secret, :state, :last_error, :disabled, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("config entry for this account: %w", repositories.ErrDuplicate)
		}
		r.log.WithError(err).WithField("entry_id", entry.ID).Error("Failed to create config entry")
		return fmt.Errorf("failed to create config entry: %w", err)
	}

	return nil
}

// Get retrieves an entry by ID
func (r *ConfigEntryRepository) Get(ctx context.Context, id string) (*models.ConfigEntry, error) {
	query := `SELECT ` + configEntryColumns + ` FROM config_entries WHERE id = ?`

	var entry models.ConfigEntry
	err := r.db.GetContext(ctx, &entry, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config entry %s: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config entry: %w", err)
	}

	return &entry, nil
}

// List returns all entries ordered by creation time
func (r *ConfigEntryRepository) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	query := `SELECT ` + configEntryColumns + ` FROM config_entries ORDER BY created_at, id`

	var entries []*models.ConfigEntry
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		r.log.WithError(err).Error("Failed to list config entries")
		return nil, fmt.Errorf("failed to list config entries: %w", err)
	}

	return entries, nil
}

// Update writes the editable fields of an entry
func (r *ConfigEntryRepository) Update(ctx context.Context, entry *models.ConfigEntry) error {
	entry.UpdatedAt = time.Now().UTC()

	query := `UPDATE config_entries SET
			title = :title,
			api_token = :api_token,
			api_secret = :api_secret,
			disabled = :disabled,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("config entry for this account: %w", repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to update config entry: %w", err)
	}

	return expectOneRow(result, entry.ID)
}

// SetState records the lifecycle state and the last setup error
func (r *ConfigEntryRepository) SetState(ctx context.Context, id string, state models.ConfigEntryState, lastError string) error {
	query := `UPDATE config_entries SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, state, lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set config entry state: %w", err)
	}

	return expectOneRow(result, id)
}

// Delete removes an entry
func (r *ConfigEntryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM config_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete config entry: %w", err)
	}

	return expectOneRow(result, id)
}

func expectOneRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("config entry %s: %w", id, repositories.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
