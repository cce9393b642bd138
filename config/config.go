// Package config carrega a configuração do servidor a partir de YAML com
// sobrescritas por variáveis de ambiente ARTMARKET_*.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Signer  SignerConfig  `yaml:"signer"`
	Content ContentConfig `yaml:"content"`
	Limits  LimitsConfig  `yaml:"limits"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | file | postgres
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type SignerConfig struct {
	Mode              string        `yaml:"mode"` // local | solana | evm
	RPCURL            string        `yaml:"rpcURL"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	SettlementTimeout time.Duration `yaml:"settlementTimeout"`
}

type ContentConfig struct {
	PinataEndpoint  string `yaml:"pinataEndpoint"`
	PinataAPIKey    string `yaml:"pinataAPIKey"`
	PinataSecretKey string `yaml:"pinataSecretKey"`
}

// Enabled informa se há credenciais do Pinata.
func (c ContentConfig) Enabled() bool {
	return c.PinataAPIKey != "" && c.PinataSecretKey != ""
}

type LimitsConfig struct {
	IntentRPS   float64 `yaml:"intentRPS"`
	IntentBurst int     `yaml:"intentBurst"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{Driver: "file", Path: "data"},
		Signer:  SignerConfig{Mode: "local", PollInterval: 2 * time.Second},
		Limits:  LimitsConfig{IntentBurst: 5},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load lê o primeiro arquivo disponível entre o caminho explícito e
// configs/config.yaml. Sem arquivo, valem os padrões.
func Load(path string) (Config, error) {
	cfg := Default()

	candidates := []string{"configs/config.yaml"}
	if path != "" {
		candidates = []string{path}
	}
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if path != "" {
				return cfg, errors.Wrapf(err, "falha ao ler %s", candidate)
			}
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "YAML inválido em %s", candidate)
		}
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func ApplyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("ARTMARKET_ADDR", &cfg.Server.Addr)
	str("ARTMARKET_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("ARTMARKET_STORAGE_PATH", &cfg.Storage.Path)
	str("ARTMARKET_DATABASE_URL", &cfg.Storage.DSN)
	str("ARTMARKET_SIGNER_MODE", &cfg.Signer.Mode)
	str("ARTMARKET_RPC_URL", &cfg.Signer.RPCURL)
	str("ARTMARKET_PINATA_API_KEY", &cfg.Content.PinataAPIKey)
	str("ARTMARKET_PINATA_SECRET_KEY", &cfg.Content.PinataSecretKey)
	str("ARTMARKET_LOG_LEVEL", &cfg.Logging.Level)

	if raw := strings.TrimSpace(os.Getenv("ARTMARKET_SETTLEMENT_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errors.Wrap(err, "ARTMARKET_SETTLEMENT_TIMEOUT")
		}
		cfg.Signer.SettlementTimeout = d
	}
	if raw := strings.TrimSpace(os.Getenv("ARTMARKET_INTENT_RPS")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errors.Wrap(err, "ARTMARKET_INTENT_RPS")
		}
		cfg.Limits.IntentRPS = v
	}
	if raw := strings.TrimSpace(os.Getenv("ARTMARKET_LOG_JSON")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.Wrap(err, "ARTMARKET_LOG_JSON")
		}
		cfg.Logging.JSON = v
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return errors.New("storage.path é obrigatório para o driver file")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn é obrigatório para o driver postgres")
		}
	default:
		return errors.Newf("storage.driver desconhecido: %q", c.Storage.Driver)
	}
	switch c.Signer.Mode {
	case "local":
	case "solana", "evm":
		if c.Signer.RPCURL == "" {
			return errors.Newf("signer.rpcURL é obrigatório no modo %s", c.Signer.Mode)
		}
	default:
		return errors.Newf("signer.mode desconhecido: %q", c.Signer.Mode)
	}
	return nil
}
