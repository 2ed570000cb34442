package params

import (
	"fmt"
	"math/big"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/luckyswap/pkg/crypto"
)

type Log struct {
	Level string `env:"LEVEL" envDefault:"info"`
	// File, when set, receives a JSON copy of every log line.
	File string `env:"FILE"`
}

type Node struct {
	DataDir string `env:"DATA_DIR" envDefault:"data/luckyswap"`
	// InMemory keeps state in a throwaway in-memory store (devnet only).
	InMemory bool           `env:"IN_MEMORY" envDefault:"false"`
	Owner    common.Address `env:"OWNER" envDefault:"0x00000000000000000000000000000000000000a1"`
	Custody  common.Address `env:"CUSTODY" envDefault:"0x00000000000000000000000000000000000000c1"`
	// Operator is the member the API prepares and matches as.
	Operator common.Address `env:"OPERATOR" envDefault:"0x00000000000000000000000000000000000000b1"`
	// Genesis is a JSON file of initial balances, applied once per data dir.
	Genesis string `env:"GENESIS"`
}

type Domain struct {
	Name              string         `env:"NAME" envDefault:"LuckySwap"`
	Version           string         `env:"VERSION" envDefault:"1"`
	ChainID           int64          `env:"CHAIN_ID" envDefault:"1337"`
	VerifyingContract common.Address `env:"VERIFYING_CONTRACT"`
}

type Randomness struct {
	// Seed is the hex BLS key seed; empty generates a fresh key each start.
	Seed            string        `env:"SEED"`
	FulfillInterval time.Duration `env:"FULFILL_INTERVAL" envDefault:"1s"`
}

type Desk struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`
	// Fee is charged per order hash, in wei.
	Fee                 string `env:"FEE" envDefault:"60000000000000"`
	MaxOrdersPerRequest int    `env:"MAX_ORDERS_PER_REQUEST" envDefault:"50"`
}

type Kafka struct {
	// Brokers left empty disables the kafka event sink.
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"luckyswap-events"`
}

type API struct {
	Addr           string   `env:"ADDR" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:3001"`
}

type Config struct {
	Log        Log        `envPrefix:"LOG_"`
	Node       Node       `envPrefix:"NODE_"`
	Domain     Domain     `envPrefix:"DOMAIN_"`
	Randomness Randomness `envPrefix:"RANDOMNESS_"`
	Desk       Desk       `envPrefix:"DESK_"`
	Kafka      Kafka      `envPrefix:"KAFKA_"`
	API        API        `envPrefix:"API_"`
}

// Default returns the devnet configuration, ignoring the environment.
func Default() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("params: bad defaults: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Node.Custody == (common.Address{}) {
		return fmt.Errorf("NODE_CUSTODY is required")
	}
	if c.Domain.ChainID <= 0 {
		return fmt.Errorf("DOMAIN_CHAIN_ID must be positive")
	}
	if _, err := c.Desk.FeeWei(); err != nil {
		return err
	}
	if c.Desk.MaxOrdersPerRequest < 0 {
		return fmt.Errorf("DESK_MAX_ORDERS_PER_REQUEST must not be negative")
	}
	return nil
}

func (d Domain) EIP712() crypto.EIP712Domain {
	return crypto.EIP712Domain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           big.NewInt(d.ChainID),
		VerifyingContract: d.VerifyingContract,
	}
}

func (d Desk) FeeWei() (*big.Int, error) {
	fee, ok := new(big.Int).SetString(d.Fee, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("invalid DESK_FEE %q", d.Fee)
	}
	return fee, nil
}
