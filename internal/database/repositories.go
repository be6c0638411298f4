package database

import (
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/repositories"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Repositories holds all repository instances
type Repositories struct {
	ConfigEntries repositories.ConfigEntryRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *sqlx.DB, log *logrus.Logger) *Repositories {
	return &Repositories{
		ConfigEntries: sqlite.NewConfigEntryRepository(db, log),
	}
}
