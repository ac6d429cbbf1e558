package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/remindfi/remind-network/pkg/log"
)

const (
	EnvSignerKey     = "REMIND_SIGNER_KEY"
	EnvRelayerKey    = "REMIND_RELAYER_KEY"
	EnvOracleAPIKey  = "REMIND_ORACLE_API_KEY"
	EnvWebhookSecret = "REMIND_WEBHOOK_SECRET"
	EnvPostgresDSN   = "REMIND_POSTGRES_DSN"
)

const (
	DBEngineLevelDB  = "leveldb"
	DBEnginePostgres = "postgres"
)

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type DBConfig struct {
	Engine      string
	Path        string
	PostgresDSN string
}

type ChainConfig struct {
	Endpoints       []string
	ContractAddress string
	ChainID         int64
	TokenDecimals   int

	Retries           int
	BackoffMs         int
	AttemptTimeoutSec int
	BatchSize         int
	Parallel          int
	BatchDelayMs      int

	CacheTTLSec   int
	MinRefreshSec int
}

type OracleConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
}

type VerificationConfig struct {
	TTLSec           int
	RecencyWindowSec int
	Keywords         []string
	AppURL           string
}

type Config struct {
	APIListenAddr    string
	MetricsNamespace string

	// APICredentials enables basic auth on the claim endpoints when set.
	APICredentials *Credentials

	SignerPrivateKey  string
	RelayerPrivateKey string
	WebhookSecret     string

	Log          LogConfig
	DB           DBConfig
	Chain        ChainConfig
	Oracle       OracleConfig
	Verification VerificationConfig
}

type Credentials struct {
	Login    string
	Password string
}

func (c VerificationConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

func (c VerificationConfig) RecencyWindow() time.Duration {
	return time.Duration(c.RecencyWindowSec) * time.Second
}

func (c OracleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func Default() (*Config, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signer key: %w", err)
	}

	whKey := make([]byte, 32)
	if _, err = rand.Read(whKey); err != nil {
		return nil, err
	}

	return &Config{
		APIListenAddr:    "0.0.0.0:8097",
		MetricsNamespace: "remind",
		SignerPrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		WebhookSecret:    hex.EncodeToString(whKey),
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		DB: DBConfig{
			Engine: DBEngineLevelDB,
			Path:   "./remind-db",
		},
		Chain: ChainConfig{
			Endpoints:         []string{"https://mainnet.base.org"},
			ChainID:           8453,
			TokenDecimals:     18,
			Retries:           3,
			BackoffMs:         200,
			AttemptTimeoutSec: 10,
			BatchSize:         10,
			Parallel:          5,
			BatchDelayMs:      100,
			CacheTTLSec:       60,
			MinRefreshSec:     30,
		},
		Oracle: OracleConfig{
			BaseURL:    "https://api.neynar.com",
			TimeoutSec: 10,
		},
		Verification: VerificationConfig{
			TTLSec:           600,
			RecencyWindowSec: 600,
			Keywords: []string{
				"approaching",
				"don't forget",
				"dont forget",
				"reminder",
				"deadline",
				"remember to",
			},
		},
	}, nil
}

// LoadConfig reads the config at path, generating and saving defaults when the file does not exist.
func LoadConfig(path string) (*Config, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	_, err = os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = os.MkdirAll(dir, os.ModePerm)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check directory: %w", err)
		}
	}

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		cfg, err := Default()
		if err != nil {
			return nil, err
		}

		if err = SaveConfig(cfg, path); err != nil {
			return nil, err
		}

		log.Info().Str("path", path).Msg("generated new config")
		return cfg, nil
	} else if err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var cfg Config
		if err = json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		return &cfg, nil
	}

	return nil, err
}

func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return err
	}

	// holds private keys
	return os.WriteFile(path, data, 0600)
}

// ApplyEnv loads the given dotenv files, missing ones are skipped, and lets the
// environment override secrets so they can stay out of the json file.
func ApplyEnv(cfg *Config, files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
		log.Debug().Str("file", f).Msg("env file loaded")
	}

	override := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	override(EnvSignerKey, &cfg.SignerPrivateKey)
	override(EnvRelayerKey, &cfg.RelayerPrivateKey)
	override(EnvOracleAPIKey, &cfg.Oracle.APIKey)
	override(EnvWebhookSecret, &cfg.WebhookSecret)
	override(EnvPostgresDSN, &cfg.DB.PostgresDSN)
	return nil
}

func (c *Config) Validate() error {
	switch c.DB.Engine {
	case DBEngineLevelDB:
		if c.DB.Path == "" {
			return errors.New("db path is required for leveldb")
		}
	case DBEnginePostgres:
		if c.DB.PostgresDSN == "" {
			return errors.New("postgres dsn is required")
		}
	default:
		return fmt.Errorf("unknown db engine %q", c.DB.Engine)
	}

	if c.Chain.TokenDecimals < 0 || c.Chain.TokenDecimals > 255 {
		return fmt.Errorf("token decimals %d out of range", c.Chain.TokenDecimals)
	}
	if c.Verification.TTLSec < 0 || c.Verification.RecencyWindowSec < 0 {
		return errors.New("verification durations must not be negative")
	}
	return nil
}
