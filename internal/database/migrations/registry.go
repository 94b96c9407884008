package migrations

import (
	"github.com/jmylchreest/streamrelay/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
//   - 001: Create session_records
func AllMigrations() []Migration {
	return []Migration{
		migration001SessionRecords(),
	}
}

func migration001SessionRecords() Migration {
	return Migration{
		Version:     "001",
		Description: "Create session_records table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.SessionRecord{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.SessionRecord{})
		},
	}
}
