package service

import (
	"gorm.io/gorm"

	"github.com/thesimplekid/cashu-lsp/config"
	"github.com/thesimplekid/cashu-lsp/events"
	"github.com/thesimplekid/cashu-lsp/lnclient"
	"github.com/thesimplekid/cashu-lsp/payments"
	"github.com/thesimplekid/cashu-lsp/policy"
	"github.com/thesimplekid/cashu-lsp/quotes"
)

type Service interface {
	Shutdown()

	GetDB() *gorm.DB
	GetConfig() config.Config
	GetEventPublisher() events.EventPublisher
	GetLNClient() lnclient.LNClient
	GetQuotesService() quotes.QuotesService
	GetPaymentProcessor() payments.Processor
	GetEvaluator() *policy.Evaluator
}
