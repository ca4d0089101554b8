package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/flags"
	"github.com/DQYXACML/forkstate/ruleset"
)

var defaultConfigPaths = []string{
	"forkstate.yaml",
	"forkstate.yml",
	"conf/forkstate.yaml",
	"conf/forkstate.yml",
	"forkstate.json",
}

// File is the layout of a config file: defaults plus named profiles that
// are applied on top of them.
type File struct {
	Default  Settings            `json:"default" yaml:"default"`
	Profiles map[string]Settings `json:"profiles" yaml:"profiles"`
}

// Settings is one block of a config file. Zero values leave the setting
// untouched.
type Settings struct {
	ChainId   uint64                     `json:"chainId" yaml:"chainId"`
	NetworkId uint64                     `json:"networkId" yaml:"networkId"`
	Hardfork  string                     `json:"hardfork" yaml:"hardfork"`
	Histories map[uint64]ruleset.History `json:"histories" yaml:"histories"`
	Genesis   map[string]string          `json:"genesis" yaml:"genesis"`

	Fork struct {
		Url         string `json:"url" yaml:"url"`
		BlockNumber uint64 `json:"blockNumber" yaml:"blockNumber"`
		CacheSize   int    `json:"cacheSize" yaml:"cacheSize"`
	} `json:"fork" yaml:"fork"`

	Mining struct {
		Coinbase    string `json:"coinbase" yaml:"coinbase"`
		BlockReward string `json:"blockReward" yaml:"blockReward"`
		GasLimit    uint64 `json:"gasLimit" yaml:"gasLimit"`
		Interval    string `json:"interval" yaml:"interval"`
	} `json:"mining" yaml:"mining"`

	DB DBConfig `json:"db" yaml:"db"`

	MetricsAddr string `json:"metricsAddr" yaml:"metricsAddr"`
}

func findConfigFile(path string) string {
	if path != "" {
		return path
	}
	for _, candidate := range defaultConfigPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// LoadFile parses a YAML or JSON config file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Config("read config file", err)
	}

	var file File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, errs.Config(fmt.Sprintf("parse YAML config %s", path), err)
		}
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, errs.Config(fmt.Sprintf("parse JSON config %s", path), err)
		}
	default:
		return nil, errs.Config(fmt.Sprintf("unsupported config file format: %s", ext), nil)
	}
	return &file, nil
}

// Settings returns the defaults merged with the named profile.
func (f *File) Settings(profile string) (*Settings, error) {
	merged := f.Default
	if profile == "" || profile == "default" {
		return &merged, nil
	}
	p, ok := f.Profiles[profile]
	if !ok {
		return nil, errs.Config(fmt.Sprintf("profile '%s' not found in config file", profile), nil)
	}
	mergeSettings(&merged, &p)
	return &merged, nil
}

func mergeSettings(target, source *Settings) {
	if source.ChainId != 0 {
		target.ChainId = source.ChainId
	}
	if source.NetworkId != 0 {
		target.NetworkId = source.NetworkId
	}
	if source.Hardfork != "" {
		target.Hardfork = source.Hardfork
	}
	for id, history := range source.Histories {
		if target.Histories == nil {
			target.Histories = make(map[uint64]ruleset.History)
		}
		target.Histories[id] = history
	}
	for addr, amount := range source.Genesis {
		if target.Genesis == nil {
			target.Genesis = make(map[string]string)
		}
		target.Genesis[addr] = amount
	}

	if source.Fork.Url != "" {
		target.Fork.Url = source.Fork.Url
	}
	if source.Fork.BlockNumber != 0 {
		target.Fork.BlockNumber = source.Fork.BlockNumber
	}
	if source.Fork.CacheSize != 0 {
		target.Fork.CacheSize = source.Fork.CacheSize
	}

	if source.Mining.Coinbase != "" {
		target.Mining.Coinbase = source.Mining.Coinbase
	}
	if source.Mining.BlockReward != "" {
		target.Mining.BlockReward = source.Mining.BlockReward
	}
	if source.Mining.GasLimit != 0 {
		target.Mining.GasLimit = source.Mining.GasLimit
	}
	if source.Mining.Interval != "" {
		target.Mining.Interval = source.Mining.Interval
	}

	if source.MetricsAddr != "" {
		target.MetricsAddr = source.MetricsAddr
	}

	if source.DB.Host != "" {
		target.DB.Host = source.DB.Host
	}
	if source.DB.Port != 0 {
		target.DB.Port = source.DB.Port
	}
	if source.DB.Name != "" {
		target.DB.Name = source.DB.Name
	}
	if source.DB.User != "" {
		target.DB.User = source.DB.User
	}
	if source.DB.Password != "" {
		target.DB.Password = source.DB.Password
	}
}

// apply copies every setting whose flag was not given explicitly.
func (s *Settings) apply(cfg *Config, isSet func(name string) bool) error {
	use := func(flag string, present bool) bool {
		return present && !isSet(flag)
	}

	if use(flags.ChainIdFlag.Name, s.ChainId != 0) {
		cfg.Chain.ChainId = s.ChainId
	}
	if use(flags.NetworkIdFlag.Name, s.NetworkId != 0) {
		cfg.Chain.NetworkId = s.NetworkId
	}
	if use(flags.HardforkFlag.Name, s.Hardfork != "") {
		hf, err := ruleset.ParseHardfork(s.Hardfork)
		if err != nil {
			return errs.Config("invalid hardfork in config file", err)
		}
		cfg.Chain.Hardfork = hf
	}
	if len(s.Histories) > 0 {
		cfg.Chain.Histories = s.Histories
	}
	if len(s.Genesis) > 0 {
		cfg.Chain.Genesis = make(map[common.Address]*big.Int, len(s.Genesis))
		for addr, amount := range s.Genesis {
			a, err := parseAddress(addr)
			if err != nil {
				return err
			}
			wei, err := parseWei(amount)
			if err != nil {
				return err
			}
			cfg.Chain.Genesis[a] = wei
		}
	}

	if use(flags.ForkUrlFlag.Name, s.Fork.Url != "") {
		cfg.Fork.Url = s.Fork.Url
	}
	if use(flags.ForkBlockNumberFlag.Name, s.Fork.BlockNumber != 0) {
		cfg.Fork.BlockNumber = s.Fork.BlockNumber
	}
	if use(flags.ForkCacheSizeFlag.Name, s.Fork.CacheSize != 0) {
		cfg.Fork.CacheSize = s.Fork.CacheSize
	}

	if use(flags.CoinbaseFlag.Name, s.Mining.Coinbase != "") {
		coinbase, err := parseAddress(s.Mining.Coinbase)
		if err != nil {
			return err
		}
		cfg.Mining.Coinbase = coinbase
	}
	if use(flags.BlockRewardFlag.Name, s.Mining.BlockReward != "") {
		reward, err := parseWei(s.Mining.BlockReward)
		if err != nil {
			return err
		}
		cfg.Mining.BlockReward = reward
	}
	if use(flags.BlockGasLimitFlag.Name, s.Mining.GasLimit != 0) {
		cfg.Mining.GasLimit = s.Mining.GasLimit
	}
	if use(flags.MineIntervalFlag.Name, s.Mining.Interval != "") {
		interval, err := time.ParseDuration(s.Mining.Interval)
		if err != nil {
			return errs.Config("invalid mining interval in config file", err)
		}
		cfg.Mining.Interval = interval
	}

	if use(flags.MetricsAddrFlag.Name, s.MetricsAddr != "") {
		cfg.MetricsAddr = s.MetricsAddr
	}

	if use(flags.MasterDbHostFlag.Name, s.DB.Host != "") {
		cfg.MasterDB.Host = s.DB.Host
	}
	if use(flags.MasterDbPortFlag.Name, s.DB.Port != 0) {
		cfg.MasterDB.Port = s.DB.Port
	}
	if use(flags.MasterDbNameFlag.Name, s.DB.Name != "") {
		cfg.MasterDB.Name = s.DB.Name
	}
	if use(flags.MasterDbUserFlag.Name, s.DB.User != "") {
		cfg.MasterDB.User = s.DB.User
	}
	if use(flags.MasterDbPasswordFlag.Name, s.DB.Password != "") {
		cfg.MasterDB.Password = s.DB.Password
	}
	return nil
}
