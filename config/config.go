package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/flags"
	"github.com/DQYXACML/forkstate/ruleset"
)

type Config struct {
	Chain    ChainConfig
	Fork     ForkConfig
	Mining   MiningConfig
	MasterDB DBConfig

	Migrations      string
	MetricsAddr     string
	ShutdownTimeout time.Duration
}

type ChainConfig struct {
	ChainId   uint64
	NetworkId uint64
	Hardfork  ruleset.Hardfork

	// Histories holds activation schedules of remote networks by network
	// id. They take precedence over the built-in ones.
	Histories map[uint64]ruleset.History

	// Genesis funds accounts of a fresh local chain.
	Genesis map[common.Address]*big.Int
}

type ForkConfig struct {
	Url         string
	BlockNumber uint64
	CacheSize   int
}

func (f ForkConfig) Enabled() bool {
	return f.Url != ""
}

type MiningConfig struct {
	Coinbase    common.Address
	BlockReward *big.Int
	GasLimit    uint64
	Interval    time.Duration
}

type DBConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Name     string `json:"name" yaml:"name"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

func (c DBConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s dbname=%s sslmode=disable", c.Host, c.Name)
	if c.Port != 0 {
		dsn += fmt.Sprintf(" port=%d", c.Port)
	}
	if c.User != "" {
		dsn += fmt.Sprintf(" user=%s", c.User)
	}
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

// History returns the activation schedule for a remote network, or nil if
// none is known.
func (c ChainConfig) History(networkID uint64) ruleset.History {
	if h, ok := c.Histories[networkID]; ok {
		return h
	}
	return ruleset.KnownHistories[networkID]
}

// LoadConfig builds the config from flags, the config file and defaults, in
// that order of precedence. Environment variables count as flags.
func LoadConfig(cliCtx *cli.Context) (Config, error) {
	cfg, err := NewConfig(cliCtx)
	if err != nil {
		return Config{}, err
	}

	path := findConfigFile(cliCtx.String(flags.ConfigFileFlag.Name))
	if path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		settings, err := file.Settings(cliCtx.String(flags.ProfileFlag.Name))
		if err != nil {
			return Config{}, err
		}
		if err := settings.apply(&cfg, cliCtx.IsSet); err != nil {
			return Config{}, err
		}
		log.Info("loaded config file", "path", path, "profile", cliCtx.String(flags.ProfileFlag.Name))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	log.Info("loaded chain config", "chainId", cfg.Chain.ChainId, "hardfork", cfg.Chain.Hardfork,
		"fork", cfg.Fork.Enabled())
	return cfg, nil
}

// NewConfig reads every flag, falling back to flag defaults.
func NewConfig(cliCtx *cli.Context) (Config, error) {
	hardfork, err := ruleset.ParseHardfork(cliCtx.String(flags.HardforkFlag.Name))
	if err != nil {
		return Config{}, errs.Config("invalid --"+flags.HardforkFlag.Name, err)
	}
	coinbase, err := parseAddress(cliCtx.String(flags.CoinbaseFlag.Name))
	if err != nil {
		return Config{}, err
	}
	reward, err := parseWei(cliCtx.String(flags.BlockRewardFlag.Name))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Chain: ChainConfig{
			ChainId:   cliCtx.Uint64(flags.ChainIdFlag.Name),
			NetworkId: cliCtx.Uint64(flags.NetworkIdFlag.Name),
			Hardfork:  hardfork,
		},
		Fork: ForkConfig{
			Url:         cliCtx.String(flags.ForkUrlFlag.Name),
			BlockNumber: cliCtx.Uint64(flags.ForkBlockNumberFlag.Name),
			CacheSize:   cliCtx.Int(flags.ForkCacheSizeFlag.Name),
		},
		Mining: MiningConfig{
			Coinbase:    coinbase,
			BlockReward: reward,
			GasLimit:    cliCtx.Uint64(flags.BlockGasLimitFlag.Name),
			Interval:    cliCtx.Duration(flags.MineIntervalFlag.Name),
		},
		MasterDB: DBConfig{
			Host:     cliCtx.String(flags.MasterDbHostFlag.Name),
			Port:     cliCtx.Int(flags.MasterDbPortFlag.Name),
			Name:     cliCtx.String(flags.MasterDbNameFlag.Name),
			User:     cliCtx.String(flags.MasterDbUserFlag.Name),
			Password: cliCtx.String(flags.MasterDbPasswordFlag.Name),
		},
		Migrations:      cliCtx.String(flags.MigrationsFlag.Name),
		MetricsAddr:     cliCtx.String(flags.MetricsAddrFlag.Name),
		ShutdownTimeout: cliCtx.Duration(flags.ShutdownTimeoutFlag.Name),
	}, nil
}

func (c *Config) Validate() error {
	if c.Chain.ChainId == 0 {
		return errs.Config("chain id must not be zero", nil)
	}
	if !c.Chain.Hardfork.Valid() {
		return errs.Config(fmt.Sprintf("unknown hardfork %d", c.Chain.Hardfork), nil)
	}
	for id, history := range c.Chain.Histories {
		if len(history) == 0 {
			return errs.Config(fmt.Sprintf("empty activation history for network %d", id), nil)
		}
	}
	if c.Mining.GasLimit < 21_000 {
		return errs.Config(fmt.Sprintf("block gas limit %d is below the cost of a transfer", c.Mining.GasLimit), nil)
	}
	if c.Mining.BlockReward == nil || c.Mining.BlockReward.Sign() < 0 {
		return errs.Config("block reward must be a non-negative amount", nil)
	}
	if c.Fork.CacheSize < 0 {
		return errs.Config("fork cache size must not be negative", nil)
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errs.Config(fmt.Sprintf("invalid address %q", s), nil)
	}
	return common.HexToAddress(s), nil
}

func parseWei(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errs.Config(fmt.Sprintf("invalid wei amount %q", s), nil)
	}
	return amount, nil
}
