package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "DEED_"

// Server captures HTTP server level configuration.
type Server struct {
	Addr         string
	LogLevel     string
	DatabaseURL  string
	IssueTimeout time.Duration
	JWT          JWTConfig
	Redis        RedisConfig
	Ledger       LedgerConfig
	Kafka        KafkaConfig
}

type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

// RedisConfig configures the optional issuance lease. Empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LeaseTTL     time.Duration
}

type LedgerConfig struct {
	RPCURL        string
	ChainID       int64
	ContractDir   string
	ContractName  string
	FeePolicyFile string
	Confirmations uint64
	PollInterval  time.Duration

	ConfirmationTimeout time.Duration
	CommitTimeout       time.Duration
	DropWindow          time.Duration

	RateLimit float64
	RateBurst int

	// Signing key sources, first non-empty wins: age-encrypted file, raw hex.
	KeyFile      string
	IdentityFile string
	HexKey       string
}

// KafkaConfig configures the outbox relay. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Partitions   int32
	Replication  int16
	PollInterval time.Duration
	BatchSize    int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	r := envReader{}
	cfg := Server{
		Addr:         r.str("ADDR", ":8080"),
		LogLevel:     r.str("LOG_LEVEL", "info"),
		DatabaseURL:  r.str("DATABASE_URL", ""),
		IssueTimeout: r.duration("ISSUE_TIMEOUT", 3*time.Minute),
		JWT: JWTConfig{
			SigningKey: r.str("JWT_SIGNING_KEY", ""),
			Issuer:     r.str("JWT_ISSUER", "titledeed"),
			Audience:   r.str("JWT_AUDIENCE", "titledeed-operators"),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: r.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			LeaseTTL:     r.duration("REDIS_LEASE_TTL", 0),
		},
		Ledger: LedgerConfig{
			RPCURL:              r.str("LEDGER_RPC_URL", "http://127.0.0.1:8545"),
			ChainID:             int64(r.integer("LEDGER_CHAIN_ID", 31337)),
			ContractDir:         r.str("LEDGER_CONTRACT_DIR", "contracts/deployed"),
			ContractName:        r.str("LEDGER_CONTRACT_NAME", "LandTitleDeed"),
			FeePolicyFile:       r.str("LEDGER_FEE_POLICY", ""),
			Confirmations:       uint64(r.integer("LEDGER_CONFIRMATIONS", 1)),
			PollInterval:        r.duration("LEDGER_POLL_INTERVAL", 2*time.Second),
			ConfirmationTimeout: r.duration("LEDGER_CONFIRMATION_TIMEOUT", 2*time.Minute),
			CommitTimeout:       r.duration("COMMIT_TIMEOUT", 10*time.Second),
			DropWindow:          r.duration("LEDGER_DROP_WINDOW", 30*time.Minute),
			RateLimit:           r.float("LEDGER_RATE_LIMIT", 5),
			RateBurst:           r.integer("LEDGER_RATE_BURST", 1),
			KeyFile:             r.str("LEDGER_KEY_FILE", ""),
			IdentityFile:        r.str("LEDGER_IDENTITY_FILE", ""),
			HexKey:              r.str("LEDGER_PRIVATE_KEY", ""),
		},
		Kafka: KafkaConfig{
			Brokers:      r.list("KAFKA_BROKERS"),
			Topic:        r.str("KAFKA_TOPIC", "titledeed.events"),
			Partitions:   int32(r.integer("KAFKA_PARTITIONS", 3)),
			Replication:  int16(r.integer("KAFKA_REPLICATION", 1)),
			PollInterval: r.duration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    r.integer("OUTBOX_BATCH_SIZE", 100),
		},
	}
	if err := r.err(); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks settings the server cannot start without.
func (s Server) Validate() error {
	var errs []error
	if s.DatabaseURL == "" {
		errs = append(errs, errors.New(envPrefix+"DATABASE_URL is required"))
	}
	if s.JWT.SigningKey == "" {
		errs = append(errs, errors.New(envPrefix+"JWT_SIGNING_KEY is required"))
	}
	if s.Ledger.KeyFile == "" && s.Ledger.HexKey == "" {
		errs = append(errs, errors.New(envPrefix+"LEDGER_KEY_FILE or "+envPrefix+"LEDGER_PRIVATE_KEY is required"))
	}
	if s.Ledger.KeyFile != "" && s.Ledger.IdentityFile == "" {
		errs = append(errs, errors.New(envPrefix+"LEDGER_IDENTITY_FILE is required with an encrypted key file"))
	}
	if s.Ledger.ChainID <= 0 {
		errs = append(errs, errors.New(envPrefix+"LEDGER_CHAIN_ID must be positive"))
	}
	return errors.Join(errs...)
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *envReader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return f
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return d
}

func (r *envReader) list(key string) []string {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}
