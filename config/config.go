package config

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/logger"
)

type config struct {
	Env       *AppConfig
	db        *gorm.DB
	jwtSecret string
}

const jwtSecretKey = "JWTSecret"

func NewConfig(env *AppConfig, gormDB *gorm.DB) (*config, error) {
	cfg := &config{
		Env: env,
		db:  gormDB,
	}
	if err := cfg.initJWTSecret(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initJWTSecret takes the secret from the environment if set, otherwise
// generates one on first start and persists it in the user config table so
// admin sessions survive restarts.
func (cfg *config) initJWTSecret() error {
	if cfg.Env.JWTSecret != "" {
		cfg.jwtSecret = cfg.Env.JWTSecret
		return cfg.set(jwtSecretKey, cfg.jwtSecret)
	}

	var userConfig db.UserConfig
	result := cfg.db.Limit(1).Find(&userConfig, &db.UserConfig{Key: jwtSecretKey})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 && userConfig.Value != "" {
		cfg.jwtSecret = userConfig.Value
		return nil
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to generate JWT secret")
		return err
	}
	cfg.jwtSecret = hex.EncodeToString(secretBytes)
	return cfg.set(jwtSecretKey, cfg.jwtSecret)
}

func (cfg *config) set(key string, value string) error {
	userConfig := db.UserConfig{Key: key, Value: value}
	result := cfg.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&userConfig)

	if result.Error != nil {
		logger.Logger.Error().Err(result.Error).Str("key", key).Msg("Failed to save config value")
		return result.Error
	}
	return nil
}

func (cfg *config) GetEnv() *AppConfig {
	return cfg.Env
}

func (cfg *config) GetNetwork() string {
	return cfg.Env.Network
}

func (cfg *config) GetJWTSecret() (string, error) {
	if cfg.jwtSecret == "" {
		return "", errors.New("JWT secret not initialized")
	}
	return cfg.jwtSecret, nil
}

func (cfg *config) CheckAdminToken(token string) bool {
	if cfg.Env.AdminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Env.AdminToken)) == 1
}
