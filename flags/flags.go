package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

const envVarPrefix = "FORKSTATE"

func prefixEnvVars(name string) []string {
	return []string{envVarPrefix + "_" + name}
}

var (
	ConfigFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "YAML or JSON config file",
		EnvVars: prefixEnvVars("CONFIG"),
	}
	ProfileFlag = &cli.StringFlag{
		Name:    "profile",
		Usage:   "Named profile of the config file to apply on top of its defaults",
		EnvVars: prefixEnvVars("PROFILE"),
	}

	ChainIdFlag = &cli.Uint64Flag{
		Name:    "chain-id",
		Usage:   "Chain id of locally produced blocks",
		EnvVars: prefixEnvVars("CHAIN_ID"),
		Value:   31337,
	}
	NetworkIdFlag = &cli.Uint64Flag{
		Name:    "network-id",
		Usage:   "Network id reported when not forking",
		EnvVars: prefixEnvVars("NETWORK_ID"),
		Value:   31337,
	}
	HardforkFlag = &cli.StringFlag{
		Name:    "hardfork",
		Usage:   "Hardfork that governs locally produced blocks",
		EnvVars: prefixEnvVars("HARDFORK"),
		Value:   "prague",
	}

	ForkUrlFlag = &cli.StringFlag{
		Name:    "fork-url",
		Usage:   "JSON-RPC endpoint of the chain to fork; empty runs a fresh local chain",
		EnvVars: prefixEnvVars("FORK_URL"),
	}
	ForkBlockNumberFlag = &cli.Uint64Flag{
		Name:    "fork-block-number",
		Usage:   "Last remote block; 0 forks at the remote head",
		EnvVars: prefixEnvVars("FORK_BLOCK_NUMBER"),
	}
	ForkCacheSizeFlag = &cli.IntFlag{
		Name:    "fork-cache-size",
		Usage:   "Number of remote accounts kept in memory",
		EnvVars: prefixEnvVars("FORK_CACHE_SIZE"),
		Value:   4096,
	}

	CoinbaseFlag = &cli.StringFlag{
		Name:    "coinbase",
		Usage:   "Address credited with block rewards",
		EnvVars: prefixEnvVars("COINBASE"),
		Value:   "0xc014ba5ec014ba5ec014ba5ec014ba5ec014ba5e",
	}
	BlockRewardFlag = &cli.StringFlag{
		Name:    "block-reward",
		Usage:   "Block reward in wei",
		EnvVars: prefixEnvVars("BLOCK_REWARD"),
		Value:   "2000000000000000000",
	}
	BlockGasLimitFlag = &cli.Uint64Flag{
		Name:    "block-gas-limit",
		Usage:   "Gas limit of locally produced blocks",
		EnvVars: prefixEnvVars("BLOCK_GAS_LIMIT"),
		Value:   30_000_000,
	}
	MineIntervalFlag = &cli.DurationFlag{
		Name:    "mine-interval",
		Usage:   "Interval between mined blocks; 0 mines only on demand",
		EnvVars: prefixEnvVars("MINE_INTERVAL"),
		Value:   0,
	}

	MigrationsFlag = &cli.StringFlag{
		Name:    "migrations-dir",
		Usage:   "Directory of SQL migrations applied at start-up",
		EnvVars: prefixEnvVars("MIGRATIONS_DIR"),
		Value:   "./migrations",
	}
	MasterDbHostFlag = &cli.StringFlag{
		Name:    "master-db-host",
		Usage:   "Postgres host; empty disables persistence",
		EnvVars: prefixEnvVars("MASTER_DB_HOST"),
	}
	MasterDbPortFlag = &cli.IntFlag{
		Name:    "master-db-port",
		Usage:   "Postgres port",
		EnvVars: prefixEnvVars("MASTER_DB_PORT"),
		Value:   5432,
	}
	MasterDbUserFlag = &cli.StringFlag{
		Name:    "master-db-user",
		Usage:   "Postgres user",
		EnvVars: prefixEnvVars("MASTER_DB_USER"),
	}
	MasterDbPasswordFlag = &cli.StringFlag{
		Name:    "master-db-password",
		Usage:   "Postgres password",
		EnvVars: prefixEnvVars("MASTER_DB_PASSWORD"),
	}
	MasterDbNameFlag = &cli.StringFlag{
		Name:    "master-db-name",
		Usage:   "Postgres database name",
		EnvVars: prefixEnvVars("MASTER_DB_NAME"),
		Value:   "forkstate",
	}
)

// Trace command flags.
var (
	TxHashFlag = &cli.StringFlag{
		Name:     "tx-hash",
		Usage:    "Hash of the transaction to trace",
		Required: true,
	}
	TraceBlockFlag = &cli.Uint64Flag{
		Name:     "block",
		Usage:    "Number of the block holding the transaction",
		Required: true,
	}
	DisableStorageFlag = &cli.BoolFlag{
		Name:  "disable-storage",
		Usage: "Omit storage from struct logs",
	}
	DisableMemoryFlag = &cli.BoolFlag{
		Name:  "disable-memory",
		Usage: "Omit memory from struct logs",
	}
	DisableStackFlag = &cli.BoolFlag{
		Name:  "disable-stack",
		Usage: "Omit the stack from struct logs",
	}
	TraceLimitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of struct logs; 0 records all",
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics-addr",
		Usage:   "Address to serve Prometheus metrics on; empty disables the endpoint",
		EnvVars: prefixEnvVars("METRICS_ADDR"),
	}
	ShutdownTimeoutFlag = &cli.DurationFlag{
		Name:    "shutdown-timeout",
		Usage:   "Time allowed for a graceful stop",
		EnvVars: prefixEnvVars("SHUTDOWN_TIMEOUT"),
		Value:   10 * time.Second,
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	ConfigFileFlag,
	ProfileFlag,
	ChainIdFlag,
	NetworkIdFlag,
	HardforkFlag,
	ForkUrlFlag,
	ForkBlockNumberFlag,
	ForkCacheSizeFlag,
	CoinbaseFlag,
	BlockRewardFlag,
	BlockGasLimitFlag,
	MineIntervalFlag,
	MigrationsFlag,
	MasterDbHostFlag,
	MasterDbPortFlag,
	MasterDbUserFlag,
	MasterDbPasswordFlag,
	MasterDbNameFlag,
	MetricsAddrFlag,
	ShutdownTimeoutFlag,
}

var TraceFlags = []cli.Flag{
	TxHashFlag,
	TraceBlockFlag,
	DisableStorageFlag,
	DisableMemoryFlag,
	DisableStackFlag,
	TraceLimitFlag,
}

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

var Flags []cli.Flag
