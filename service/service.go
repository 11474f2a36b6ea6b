package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gorm.io/gorm"

	"github.com/thesimplekid/cashu-lsp/config"
	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/db/migrations"
	"github.com/thesimplekid/cashu-lsp/events"
	"github.com/thesimplekid/cashu-lsp/lnclient"
	"github.com/thesimplekid/cashu-lsp/lnclient/lnd"
	"github.com/thesimplekid/cashu-lsp/logger"
	"github.com/thesimplekid/cashu-lsp/payments"
	"github.com/thesimplekid/cashu-lsp/pkg/version"
	"github.com/thesimplekid/cashu-lsp/policy"
	"github.com/thesimplekid/cashu-lsp/quotes"
)

type service struct {
	cfg config.Config

	db             *gorm.DB
	lnClient       lnclient.LNClient
	quotesService  quotes.QuotesService
	processor      payments.Processor
	evaluator      *policy.Evaluator
	eventPublisher events.EventPublisher
	ctx            context.Context
}

func NewService(ctx context.Context) (*service, error) {
	// Load config from environment variables / .env file
	godotenv.Load(".env")
	appConfig := &config.AppConfig{}
	err := envconfig.Process("", appConfig)
	if err != nil {
		return nil, err
	}

	logger.Init(appConfig.LogLevel)
	logger.Logger.Info().Msg("cashu-lsp " + version.Tag)

	if appConfig.Workdir == "" {
		appConfig.Workdir = filepath.Join(xdg.DataHome, "/cashu-lsp")
		logger.Logger.Info().Str("workdir", appConfig.Workdir).Msg("No workdir specified, using default")
	}
	// make sure workdir exists
	os.MkdirAll(appConfig.Workdir, os.ModePerm)

	if appConfig.LogToFile {
		err = logger.AddFileLogger(appConfig.Workdir)
		if err != nil {
			return nil, err
		}
	}

	// If DATABASE_URI is a URI or a path, leave it unchanged.
	// If it only contains a filename, prepend the workdir.
	if !strings.HasPrefix(appConfig.DatabaseUri, "file:") {
		databasePath, _ := filepath.Split(appConfig.DatabaseUri)
		if databasePath == "" {
			appConfig.DatabaseUri = filepath.Join(appConfig.Workdir, appConfig.DatabaseUri)
		}
	}

	gormDB, err := db.NewDB(appConfig.DatabaseUri, appConfig.LogDBQueries)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(gormDB); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to migrate database")
		return nil, err
	}

	cfg, err := config.NewConfig(appConfig, gormDB)
	if err != nil {
		return nil, err
	}

	if len(appConfig.GetAcceptedMints()) == 0 {
		return nil, errors.New("ACCEPTED_MINTS must name at least one mint URL")
	}

	lnClient, err := newLNClient(ctx, appConfig)
	if err != nil {
		return nil, err
	}

	eventPublisher := events.NewEventPublisher()

	evaluator := policy.NewEvaluator(
		appConfig.MinChannelSizeMsat,
		appConfig.MaxChannelSizeMsat,
		appConfig.MinFeeMsat,
		appConfig.FeeRatePPK,
	)

	paymentUrl := appConfig.PaymentUrl
	if paymentUrl == "" {
		paymentUrl = fmt.Sprintf("http://localhost:%s/api/v1/payment", appConfig.Port)
	}
	processor := payments.NewNUT18Processor(paymentUrl, appConfig.GetAcceptedMints(), payments.NewProofStore(gormDB))

	quotesService := quotes.NewQuotesService(
		gormDB,
		evaluator,
		processor,
		lnClient,
		eventPublisher,
		time.Duration(appConfig.QuoteExpirySeconds)*time.Second,
		appConfig.MaxProvisioningAttempts,
		appConfig.ProvisioningConcurrency,
	)
	if err := quotesService.Start(ctx); err != nil {
		return nil, err
	}

	svc := &service{
		cfg:            cfg,
		ctx:            ctx,
		db:             gormDB,
		lnClient:       lnClient,
		quotesService:  quotesService,
		processor:      processor,
		evaluator:      evaluator,
		eventPublisher: eventPublisher,
	}

	eventPublisher.Publish(&events.Event{
		Event: "lsp_started",
		Properties: map[string]interface{}{
			"version": version.Tag,
		},
	})

	return svc, nil
}

func newLNClient(ctx context.Context, appConfig *config.AppConfig) (lnclient.LNClient, error) {
	if appConfig.LNDAddress == "" {
		return nil, errors.New("LND_ADDRESS is required")
	}

	certHex := ""
	if appConfig.LNDCertFile != "" {
		certBytes, err := os.ReadFile(appConfig.LNDCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read LND cert file: %w", err)
		}
		certHex = hex.EncodeToString(certBytes)
	}

	macaroonBytes, err := os.ReadFile(appConfig.LNDMacaroonFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read LND macaroon file: %w", err)
	}

	return lnd.NewLNDService(ctx, appConfig.LNDAddress, certHex, hex.EncodeToString(macaroonBytes))
}

func (svc *service) Shutdown() {
	logger.Logger.Info().Msg("Shutting down")

	svc.quotesService.Shutdown()

	if err := svc.lnClient.Shutdown(); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to shut down node client")
	}

	db.Stop(svc.db)
	logger.Logger.Info().Msg("Shutdown complete")
}

func (svc *service) GetDB() *gorm.DB {
	return svc.db
}

func (svc *service) GetConfig() config.Config {
	return svc.cfg
}

func (svc *service) GetEventPublisher() events.EventPublisher {
	return svc.eventPublisher
}

func (svc *service) GetLNClient() lnclient.LNClient {
	return svc.lnClient
}

func (svc *service) GetQuotesService() quotes.QuotesService {
	return svc.quotesService
}

func (svc *service) GetPaymentProcessor() payments.Processor {
	return svc.processor
}

func (svc *service) GetEvaluator() *policy.Evaluator {
	return svc.evaluator
}
