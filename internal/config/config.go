// Package config loads service configuration.
//
// Sources are applied in order, later ones winning: built-in defaults, the
// YAML file, a .env file, process environment, command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"solana-nft-custody/internal/solana"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	Custody  Custody  `yaml:"custody"`
	Swap     Swap     `yaml:"swap"`
	Feed     Feed     `yaml:"feed"`
	Log      Log      `yaml:"log"`
	Fixtures Fixtures `yaml:"fixtures"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	SignatureSkew   time.Duration `yaml:"signature_skew"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Storage struct {
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"` // optional fee analytics
	// ConnectAttempts bounds startup connection retries.
	ConnectAttempts uint `yaml:"connect_attempts"`
}

type Custody struct {
	ProgramID                     string `yaml:"program_id"`
	StrictTransitions             bool   `yaml:"strict_transitions"`
	RequireMatchingUnlockReceiver bool   `yaml:"require_matching_unlock_receiver"`
}

type Swap struct {
	// CustodianURL switches asset settlement to an external JSON-RPC service.
	CustodianURL string `yaml:"custodian_url"`
}

type Feed struct {
	SendBuffer int `yaml:"send_buffer"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	Path   string `yaml:"path"`   // rotating file output when set
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			SignatureSkew:   5 * time.Minute,
			MaxBodyBytes:    64 << 10,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: Storage{
			Backend:         BackendMemory,
			ConnectAttempts: 10,
		},
		Custody: Custody{
			StrictTransitions: true,
		},
		Feed: Feed{
			SendBuffer: 256,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile decodes a YAML file over cfg.
func LoadFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// LoadEnvFile exports KEY=VALUE lines from path without overriding
// variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // File doesn't exist, use system env vars
		}
		return fmt.Errorf("read env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Don't override existing env vars
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	str("CUSTODY_ADDR", &cfg.Server.Addr)
	str("CUSTODY_STORAGE", &cfg.Storage.Backend)
	str("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("CLICKHOUSE_DSN", &cfg.Storage.ClickhouseDSN)
	str("CUSTODY_PROGRAM_ID", &cfg.Custody.ProgramID)
	str("CUSTODY_CUSTODIAN_URL", &cfg.Swap.CustodianURL)
	str("CUSTODY_LOG_LEVEL", &cfg.Log.Level)
	str("CUSTODY_LOG_FORMAT", &cfg.Log.Format)
	str("CUSTODY_LOG_PATH", &cfg.Log.Path)

	if v, ok := os.LookupEnv("CUSTODY_CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("CUSTODY_SIGNATURE_SKEW"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CUSTODY_SIGNATURE_SKEW: %w", err)
		}
		cfg.Server.SignatureSkew = d
	}
	if v, ok := os.LookupEnv("CUSTODY_STRICT_TRANSITIONS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CUSTODY_STRICT_TRANSITIONS: %w", err)
		}
		cfg.Custody.StrictTransitions = b
	}
	if v, ok := os.LookupEnv("CUSTODY_MATCHING_UNLOCK_RECEIVER"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CUSTODY_MATCHING_UNLOCK_RECEIVER: %w", err)
		}
		cfg.Custody.RequireMatchingUnlockReceiver = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load builds a Config from args (without the program name).
// -config names the YAML file and -env the dotenv file.
func Load(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CUSTODY_CONFIG"), "YAML config file")
	envPath := fs.String("env", ".env", "dotenv file")
	addr := fs.String("addr", "", "HTTP listen address")
	backend := fs.String("storage", "", "storage backend (memory, postgres)")
	postgresDSN := fs.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := fs.String("clickhouse-dsn", "", "ClickHouse connection string")
	programID := fs.String("program-id", "", "custody program ID used to derive collection IDs")
	custodianURL := fs.String("custodian-url", "", "external asset custody JSON-RPC endpoint")
	logLevel := fs.String("log-level", "", "log level")
	logPath := fs.String("log-path", "", "rotating log directory")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configPath != "" {
		if err := LoadFile(cfg, filepath.Clean(*configPath)); err != nil {
			return nil, err
		}
	}
	if err := LoadEnvFile(*envPath); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "storage":
			cfg.Storage.Backend = *backend
		case "postgres-dsn":
			cfg.Storage.PostgresDSN = *postgresDSN
		case "clickhouse-dsn":
			cfg.Storage.ClickhouseDSN = *clickhouseDSN
		case "program-id":
			cfg.Custody.ProgramID = *programID
		case "custodian-url":
			cfg.Swap.CustodianURL = *custodianURL
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-path":
			cfg.Log.Path = *logPath
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.SignatureSkew <= 0 {
		errs = append(errs, errors.New("server.signature_skew must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
		if len(c.Fixtures.Accounts) > 0 || len(c.Fixtures.Assets) > 0 {
			errs = append(errs, errors.New("fixtures are only supported by the memory backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want %s or %s", c.Storage.Backend, BackendMemory, BackendPostgres))
	}

	if c.Custody.ProgramID == "" {
		errs = append(errs, errors.New("custody.program_id is required"))
	} else if _, err := solana.ParsePublicKey(c.Custody.ProgramID); err != nil {
		errs = append(errs, fmt.Errorf("custody.program_id: %w", err))
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}

	if err := c.Fixtures.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ProgramKey returns the parsed program ID. Call after Validate.
func (c *Config) ProgramKey() solana.PublicKey {
	pk, _ := solana.ParsePublicKey(c.Custody.ProgramID)
	return pk
}
