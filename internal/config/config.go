package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	LedgerHorizon = "horizon"
	LedgerMock    = "mock"

	ProcessorPi   = "pi"
	ProcessorMock = "mock"
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	DBSource    string
	StoreDriver string
	AutoMigrate bool
	Port        string
	Env         string
	CORSOrigins []string

	HorizonURL        string
	NetworkPassphrase string
	AppPrivateKey     string
	LedgerMode        string
	LedgerBaseFee     int64
	MockSourceAddress string
	MockSourceBalance string

	ProcessorBaseURL string
	ProcessorAPIKey  string
	ProcessorMode    string
	ProcessorApprove bool

	ExternalCallTimeout time.Duration
}

// Load reads the environment, after merging a .env file if one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Println("[INFO] loaded .env")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		DBSource:          get("DB_SOURCE", ""),
		StoreDriver:       get("STORE_DRIVER", StorePostgres),
		Port:              get("SERVER_PORT", "8080"),
		Env:               get("ENVIRONMENT", "development"),
		HorizonURL:        get("HORIZON_URL", "https://api.mainnet.minepi.com"),
		NetworkPassphrase: get("NETWORK_PASSPHRASE", "Pi Mainnet"),
		AppPrivateKey:     get("APP_PRIVATE_KEY", ""),
		LedgerMode:        get("LEDGER_MODE", LedgerHorizon),
		MockSourceAddress: get("MOCK_SOURCE_ADDRESS", "GMOCKSOURCE"),
		MockSourceBalance: get("MOCK_SOURCE_BALANCE", "1000000"),
		ProcessorBaseURL:  get("PI_API_BASE_URL", "https://api.minepi.com/v2"),
		ProcessorAPIKey:   get("PI_API_KEY", ""),
		ProcessorMode:     get("PROCESSOR_MODE", ProcessorPi),
	}

	var err error
	if cfg.AutoMigrate, err = parseBool("AUTO_MIGRATE", get("AUTO_MIGRATE", "false")); err != nil {
		return nil, err
	}
	if cfg.ProcessorApprove, err = parseBool("PROCESSOR_APPROVE", get("PROCESSOR_APPROVE", "false")); err != nil {
		return nil, err
	}
	if cfg.LedgerBaseFee, err = strconv.ParseInt(get("LEDGER_BASE_FEE", "100"), 10, 64); err != nil || cfg.LedgerBaseFee <= 0 {
		return nil, fmt.Errorf("LEDGER_BASE_FEE must be a positive integer (stroops)")
	}
	if cfg.ExternalCallTimeout, err = time.ParseDuration(get("EXTERNAL_CALL_TIMEOUT", "15s")); err != nil || cfg.ExternalCallTimeout <= 0 {
		return nil, fmt.Errorf("EXTERNAL_CALL_TIMEOUT must be a positive duration")
	}
	for _, o := range strings.Split(get("CORS_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StorePostgres, StoreMemory)
	}

	switch c.LedgerMode {
	case LedgerHorizon:
		if c.AppPrivateKey == "" {
			return fmt.Errorf("APP_PRIVATE_KEY environment variable is required")
		}
	case LedgerMock:
	default:
		return fmt.Errorf("LEDGER_MODE must be %q or %q", LedgerHorizon, LedgerMock)
	}

	switch c.ProcessorMode {
	case ProcessorPi:
		if c.ProcessorAPIKey == "" {
			return fmt.Errorf("PI_API_KEY environment variable is required")
		}
	case ProcessorMock:
	default:
		return fmt.Errorf("PROCESSOR_MODE must be %q or %q", ProcessorPi, ProcessorMock)
	}
	return nil
}

func parseBool(key, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}
