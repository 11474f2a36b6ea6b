package tests

import (
	"fmt"
	"os"
	"testing"

	"gorm.io/gorm"

	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/db/migrations"
	"github.com/thesimplekid/cashu-lsp/events"
	"github.com/thesimplekid/cashu-lsp/logger"
	"github.com/thesimplekid/cashu-lsp/policy"
	"github.com/thesimplekid/cashu-lsp/tests/mocks"
)

type TestService struct {
	DB               *gorm.DB
	EventPublisher   events.EventPublisher
	LNClient         *mocks.MockLNClient
	PaymentProcessor *mocks.MockPaymentProcessor
	Evaluator        *policy.Evaluator

	dbFile string
}

// default policy for tests: 500k sat min, 10M sat max (msat), 1000 msat min
// fee, 1000 ppk fee rate
func DefaultTestEvaluator() *policy.Evaluator {
	return policy.NewEvaluator(500_000, 10_000_000_000, 1000, 1000)
}

func CreateTestService(t *testing.T) (*TestService, error) {
	logger.Init("error")

	dbFile, err := os.CreateTemp("", "cashu_lsp_test_*.db")
	if err != nil {
		return nil, err
	}
	if err := dbFile.Close(); err != nil {
		return nil, err
	}

	gormDB, err := db.NewDB(fmt.Sprintf("file:%s", dbFile.Name()), false)
	if err != nil {
		return nil, err
	}

	if err := migrations.Migrate(gormDB); err != nil {
		return nil, err
	}

	mockLNClient := &mocks.MockLNClient{}
	mockLNClient.Mock.Test(t)

	return &TestService{
		DB:               gormDB,
		EventPublisher:   events.NewEventPublisher(),
		LNClient:         mockLNClient,
		PaymentProcessor: mocks.NewMockPaymentProcessor(),
		Evaluator:        DefaultTestEvaluator(),
		dbFile:           dbFile.Name(),
	}, nil
}

func (svc *TestService) Remove() {
	db.Stop(svc.DB)
	os.Remove(svc.dbFile)
}
