package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/thesimplekid/cashu-lsp/db"
)

var _202608151200_initial = &gormigrate.Migration{
	ID: "202608151200_initial",
	Migrate: func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&db.UserConfig{},
			&db.Quote{},
			&db.ReceivedProof{},
		)
	},
	Rollback: func(tx *gorm.DB) error {
		if err := tx.Migrator().DropTable(&db.ReceivedProof{}); err != nil {
			return err
		}
		if err := tx.Migrator().DropTable(&db.Quote{}); err != nil {
			return err
		}
		return tx.Migrator().DropTable(&db.UserConfig{})
	},
}
