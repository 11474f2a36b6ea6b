package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Retry bookkeeping moved from in-memory timers into the quotes table so
// backoff schedules survive restarts.
var _202608221030_quote_retry_columns = &gormigrate.Migration{
	ID: "202608221030_quote_retry_columns",
	Migrate: func(tx *gorm.DB) error {
		if !tx.Migrator().HasColumn("quotes", "attempt_count") {
			if err := tx.Exec("ALTER TABLE quotes ADD COLUMN attempt_count integer NOT NULL DEFAULT 0").Error; err != nil {
				return err
			}
		}
		if !tx.Migrator().HasColumn("quotes", "next_attempt_at") {
			if err := tx.Exec("ALTER TABLE quotes ADD COLUMN next_attempt_at datetime").Error; err != nil {
				return err
			}
		}
		if !tx.Migrator().HasColumn("quotes", "lease_expires_at") {
			if err := tx.Exec("ALTER TABLE quotes ADD COLUMN lease_expires_at datetime").Error; err != nil {
				return err
			}
		}
		return nil
	},
	Rollback: func(tx *gorm.DB) error {
		return nil
	},
}
