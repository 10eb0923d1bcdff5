// Package config loads server configuration from an optional YAML file
// (CONFIG_FILE) overlaid with environment variables. Environment wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	maxSignedURLTTL = 15 * time.Minute
)

// Server captures everything cmd/server needs to wire the engine.
type Server struct {
	Addr        string         `yaml:"addr"`
	Environment string         `yaml:"environment"`
	LogLevel    string         `yaml:"log_level"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Storage     StorageConfig  `yaml:"storage"`
	Ledger      LedgerConfig   `yaml:"ledger"`
	Identity    IdentityConfig `yaml:"identity"`
	Issuance    IssuanceConfig `yaml:"issuance"`
	Seal        SealConfig     `yaml:"seal"`
	Outbox      OutboxConfig   `yaml:"outbox"`
}

// DatabaseConfig selects Postgres; an empty URL keeps documents in memory.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL             string        `yaml:"url"`
	PoolSize        int           `yaml:"pool_size"`
	MinIdleConns    int           `yaml:"min_idle_conns"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ResolveCacheTTL time.Duration `yaml:"resolve_cache_ttl"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	Acks    string `yaml:"acks"`
}

// StorageConfig selects S3; an empty bucket uses the in-memory blob store.
type StorageConfig struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	Timeout         time.Duration `yaml:"timeout"`
	SignedURLTTL    time.Duration `yaml:"signed_url_ttl"`
}

// LedgerConfig selects the ledger; an empty RPC URL leaves anchoring
// unconfigured so documents are issued with the skip sentinel.
type LedgerConfig struct {
	RPCURL          string        `yaml:"rpc_url"`
	ContractAddress string        `yaml:"contract_address"`
	PrivateKey      string        `yaml:"private_key"`
	ChainID         int64         `yaml:"chain_id"`
	WaitMined       bool          `yaml:"wait_mined"`
	Timeout         time.Duration `yaml:"timeout"`
	Mandatory       bool          `yaml:"mandatory"`
	Memory          bool          `yaml:"memory"` // in-process ledger for local runs
}

type IdentityConfig struct {
	Pepper string `yaml:"pepper"`
}

type IssuanceConfig struct {
	VerifyBaseURL  string        `yaml:"verify_base_url"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	StoreTimeout   time.Duration `yaml:"store_timeout"`
}

type SealConfig struct {
	LogoPath string `yaml:"logo_path"`
	Caption  string `yaml:"caption"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Retention    time.Duration `yaml:"retention"`
}

// Default returns the development defaults.
func Default() Server {
	return Server{
		Addr:        ":8080",
		Environment: EnvDevelopment,
		LogLevel:    "info",
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:        10,
			MinIdleConns:    2,
			DialTimeout:     5 * time.Second,
			ReadTimeout:     3 * time.Second,
			WriteTimeout:    3 * time.Second,
			ResolveCacheTTL: 10 * time.Minute,
		},
		Kafka: KafkaConfig{Topic: "educhain.documents", Acks: "all"},
		Storage: StorageConfig{
			Region:       "us-east-1",
			Timeout:      30 * time.Second,
			SignedURLTTL: 5 * time.Minute,
		},
		Ledger: LedgerConfig{Timeout: 15 * time.Second},
		Issuance: IssuanceConfig{
			VerifyBaseURL:  "http://localhost:8080",
			MaxUploadBytes: 10 << 20,
			StoreTimeout:   30 * time.Second,
		},
		Outbox: OutboxConfig{
			PollInterval: 500 * time.Millisecond,
			BatchSize:    100,
			Retention:    7 * 24 * time.Hour,
		},
	}
}

// Load reads CONFIG_FILE when set, then the process environment.
func Load() (Server, error) {
	return LoadWith(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

// LoadWith is Load with an explicit file path and environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Server, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Server{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Server{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := overlayEnv(&cfg, lookup); err != nil {
		return Server{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func overlayEnv(cfg *Server, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}
	e.setString("EDUCHAIN_ADDR", &cfg.Addr)
	e.setString("ENVIRONMENT", &cfg.Environment)
	e.setString("LOG_LEVEL", &cfg.LogLevel)

	e.setString("DATABASE_URL", &cfg.Database.URL)
	e.setInt("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.setInt("DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	e.setDuration("DATABASE_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)

	e.setString("REDIS_URL", &cfg.Redis.URL)
	e.setInt("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	e.setDuration("LEDGER_CACHE_TTL", &cfg.Redis.ResolveCacheTTL)

	e.setString("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	e.setString("KAFKA_TOPIC", &cfg.Kafka.Topic)
	e.setString("KAFKA_ACKS", &cfg.Kafka.Acks)

	e.setString("S3_BUCKET", &cfg.Storage.Bucket)
	e.setString("S3_REGION", &cfg.Storage.Region)
	e.setString("S3_ENDPOINT", &cfg.Storage.Endpoint)
	e.setString("AWS_ACCESS_KEY_ID", &cfg.Storage.AccessKeyID)
	e.setString("AWS_SECRET_ACCESS_KEY", &cfg.Storage.SecretAccessKey)
	e.setString("S3_PUBLIC_BASE_URL", &cfg.Storage.PublicBaseURL)
	e.setBool("S3_USE_PATH_STYLE", &cfg.Storage.UsePathStyle)
	e.setDuration("S3_TIMEOUT", &cfg.Storage.Timeout)
	e.setDuration("SIGNED_URL_TTL", &cfg.Storage.SignedURLTTL)

	e.setString("LEDGER_RPC_URL", &cfg.Ledger.RPCURL)
	e.setString("LEDGER_CONTRACT_ADDRESS", &cfg.Ledger.ContractAddress)
	e.setString("LEDGER_PRIVATE_KEY", &cfg.Ledger.PrivateKey)
	e.setInt64("LEDGER_CHAIN_ID", &cfg.Ledger.ChainID)
	e.setBool("LEDGER_WAIT_MINED", &cfg.Ledger.WaitMined)
	e.setDuration("LEDGER_TIMEOUT", &cfg.Ledger.Timeout)
	e.setBool("LEDGER_MANDATORY", &cfg.Ledger.Mandatory)
	e.setBool("LEDGER_MEMORY", &cfg.Ledger.Memory)

	e.setString("IDENTITY_PEPPER", &cfg.Identity.Pepper)

	e.setString("VERIFY_BASE_URL", &cfg.Issuance.VerifyBaseURL)
	e.setInt64("MAX_UPLOAD_BYTES", &cfg.Issuance.MaxUploadBytes)
	e.setDuration("STORE_TIMEOUT", &cfg.Issuance.StoreTimeout)

	e.setString("SEAL_LOGO_PATH", &cfg.Seal.LogoPath)
	e.setString("SEAL_CAPTION", &cfg.Seal.Caption)

	e.setDuration("OUTBOX_POLL_INTERVAL", &cfg.Outbox.PollInterval)
	e.setInt("OUTBOX_BATCH_SIZE", &cfg.Outbox.BatchSize)
	e.setDuration("OUTBOX_RETENTION", &cfg.Outbox.Retention)

	return errors.Join(e.errs...)
}

// Validate rejects configurations the server must not start with.
func (c Server) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch c.Environment {
	case EnvDevelopment, EnvProduction, "test":
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.Storage.SignedURLTTL <= 0 || c.Storage.SignedURLTTL > maxSignedURLTTL {
		errs = append(errs, fmt.Errorf("signed url ttl must be in (0, %s]", maxSignedURLTTL))
	}
	if c.Ledger.Timeout <= 0 {
		errs = append(errs, errors.New("ledger timeout must be positive"))
	}
	if c.Ledger.RPCURL != "" && (c.Ledger.ContractAddress == "" || c.Ledger.PrivateKey == "") {
		errs = append(errs, errors.New("ledger rpc url requires contract address and private key"))
	}
	if c.Ledger.Mandatory && c.Ledger.RPCURL == "" && !c.Ledger.Memory {
		errs = append(errs, errors.New("mandatory anchoring requires a configured ledger"))
	}
	if c.Issuance.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be positive"))
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0 {
		errs = append(errs, errors.New("outbox batch size and poll interval must be positive"))
	}
	if c.IsProduction() {
		if c.Database.URL == "" {
			errs = append(errs, errors.New("production requires a database URL"))
		}
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("production requires an S3 bucket"))
		}
		if c.Identity.Pepper == "" {
			errs = append(errs, errors.New("production requires an identity pepper"))
		}
		if c.Ledger.Memory {
			errs = append(errs, errors.New("production cannot use the in-memory ledger"))
		}
	}
	return errors.Join(errs...)
}

func (c Server) IsProduction() bool {
	return c.Environment == EnvProduction
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
