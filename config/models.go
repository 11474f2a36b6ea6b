package config

import "strings"

type AppConfig struct {
	Network         string `envconfig:"NETWORK" default:"regtest"`
	LNDAddress      string `envconfig:"LND_ADDRESS"`
	LNDCertFile     string `envconfig:"LND_CERT_FILE"`
	LNDMacaroonFile string `envconfig:"LND_MACAROON_FILE"`
	Workdir         string `envconfig:"WORK_DIR"`
	Port            string `envconfig:"PORT" default:"8085"`
	DatabaseUri     string `envconfig:"DATABASE_URI" default:"cashu-lsp.db"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	LogToFile       bool   `envconfig:"LOG_TO_FILE" default:"true"`
	LogDBQueries    bool   `envconfig:"LOG_DB_QUERIES" default:"false"`

	AdminToken string `envconfig:"ADMIN_TOKEN"`
	JWTSecret  string `envconfig:"JWT_SECRET"`

	MinChannelSizeMsat uint64 `envconfig:"MIN_CHANNEL_SIZE_MSAT" default:"500000000"`
	MaxChannelSizeMsat uint64 `envconfig:"MAX_CHANNEL_SIZE_MSAT" default:"10000000000"`
	MinFeeMsat         uint64 `envconfig:"MIN_FEE_MSAT" default:"1000000"`
	FeeRatePPK         uint64 `envconfig:"FEE_RATE_PPK" default:"1000"`

	// how long a quote may remain unpaid before it expires
	QuoteExpirySeconds uint64 `envconfig:"QUOTE_EXPIRY_SECONDS" default:"3600"`

	MaxProvisioningAttempts uint `envconfig:"MAX_PROVISIONING_ATTEMPTS" default:"5"`
	ProvisioningConcurrency uint `envconfig:"PROVISIONING_CONCURRENCY" default:"4"`

	// URL payers POST NUT-18 payment payloads to
	PaymentUrl string `envconfig:"PAYMENT_URL"`
	// comma-separated allow-list of accepted mint URLs
	AcceptedMints string `envconfig:"ACCEPTED_MINTS"`
}

func (c *AppConfig) GetAcceptedMints() []string {
	mints := []string{}
	for _, mint := range strings.Split(c.AcceptedMints, ",") {
		mint = strings.TrimSpace(strings.TrimSuffix(mint, "/"))
		if mint != "" {
			mints = append(mints, mint)
		}
	}
	return mints
}

type Config interface {
	GetEnv() *AppConfig
	GetNetwork() string
	GetJWTSecret() (string, error)
	CheckAdminToken(token string) bool
}
