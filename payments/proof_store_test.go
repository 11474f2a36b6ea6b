package payments

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/db/migrations"
	"github.com/thesimplekid/cashu-lsp/logger"
	"github.com/thesimplekid/cashu-lsp/nut18"
)

func TestProofStoreReceiveProofs(t *testing.T) {
	logger.Init("error")

	dbFile, err := os.CreateTemp("", "cashu_lsp_proofs_*.db")
	require.NoError(t, err)
	require.NoError(t, dbFile.Close())
	defer os.Remove(dbFile.Name())

	gormDB, err := db.NewDB(fmt.Sprintf("file:%s", dbFile.Name()), false)
	require.NoError(t, err)
	defer db.Stop(gormDB)
	require.NoError(t, migrations.Migrate(gormDB))

	store := NewProofStore(gormDB)

	proofs := []nut18.Proof{
		{Amount: 512, Id: "009a1f293253e41e", Secret: "secret-1", C: "02aa"},
		{Amount: 490, Id: "009a1f293253e41e", Secret: "secret-2", C: "02bb"},
	}

	ctx := context.TODO()
	require.NoError(t, store.ReceiveProofs(ctx, "https://mint.example.com", proofs))

	// a redelivered payload must not double-count proofs
	require.NoError(t, store.ReceiveProofs(ctx, "https://mint.example.com", proofs))

	var count int64
	require.NoError(t, gormDB.Model(&db.ReceivedProof{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	var stored db.ReceivedProof
	require.NoError(t, gormDB.First(&stored, &db.ReceivedProof{Secret: "secret-1"}).Error)
	assert.Equal(t, uint64(512), stored.Amount)
	assert.Equal(t, "https://mint.example.com", stored.Mint)
	assert.False(t, stored.Redeemed)
}
