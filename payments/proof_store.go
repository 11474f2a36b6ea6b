package payments

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/logger"
	"github.com/thesimplekid/cashu-lsp/nut18"
)

// proofStore persists accepted proofs so they can be redeemed against the
// mint out of band. The secret's unique index makes redelivered payloads
// upsert instead of double-counting.
type proofStore struct {
	db *gorm.DB
}

func NewProofStore(gormDB *gorm.DB) *proofStore {
	return &proofStore{db: gormDB}
}

func (store *proofStore) ReceiveProofs(ctx context.Context, mint string, proofs []nut18.Proof) error {
	records := make([]db.ReceivedProof, 0, len(proofs))
	for _, proof := range proofs {
		records = append(records, db.ReceivedProof{
			Mint:     mint,
			Amount:   proof.Amount,
			KeysetId: proof.Id,
			Secret:   proof.Secret,
			C:        proof.C,
		})
	}
	if len(records) == 0 {
		return nil
	}

	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "secret"}},
		DoNothing: true,
	}).Create(&records).Error
	if err != nil {
		logger.Logger.Error().Err(err).Str("mint", mint).Msg("Failed to store received proofs")
		return err
	}
	return nil
}
