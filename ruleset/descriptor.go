package ruleset

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/params"
)

// Descriptor identifies the rules a block executes under. A Descriptor is
// immutable once built.
type Descriptor struct {
	chainID   uint64
	networkID uint64
	hardfork  Hardfork
	config    *params.ChainConfig
}

// NewDescriptor builds a descriptor whose chain configuration activates every
// fork up to and including hardfork at genesis.
func NewDescriptor(chainID, networkID uint64, hardfork Hardfork) *Descriptor {
	return &Descriptor{
		chainID:   chainID,
		networkID: networkID,
		hardfork:  hardfork,
		config:    chainConfigFor(chainID, hardfork),
	}
}

func (d *Descriptor) ChainID() uint64 { return d.chainID }

func (d *Descriptor) NetworkID() uint64 { return d.networkID }

func (d *Descriptor) Hardfork() Hardfork { return d.hardfork }

// ChainConfig returns the go-ethereum configuration for this ruleset. The
// returned value is shared and must not be modified.
func (d *Descriptor) ChainConfig() *params.ChainConfig {
	return d.config
}

// Gte reports whether the ruleset includes the rules of h.
func (d *Descriptor) Gte(h Hardfork) bool {
	return d.hardfork >= h
}

// RequiresBaseFee reports whether headers executed under this ruleset must
// carry a base fee.
func (d *Descriptor) RequiresBaseFee() bool {
	return d.Gte(London)
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("chain=%d network=%d hardfork=%s", d.chainID, d.networkID, d.hardfork)
}

func chainConfigFor(chainID uint64, hf Hardfork) *params.ChainConfig {
	zero := big.NewInt(0)
	genesis := uint64(0)

	config := &params.ChainConfig{
		ChainID: new(big.Int).SetUint64(chainID),
		Ethash:  new(params.EthashConfig),
	}
	if hf >= Homestead {
		config.HomesteadBlock = zero
	}
	if hf >= TangerineWhistle {
		config.EIP150Block = zero
	}
	if hf >= SpuriousDragon {
		config.EIP155Block = zero
		config.EIP158Block = zero
	}
	if hf >= Byzantium {
		config.ByzantiumBlock = zero
	}
	if hf >= Constantinople {
		config.ConstantinopleBlock = zero
	}
	if hf >= Petersburg {
		config.PetersburgBlock = zero
	}
	if hf >= Istanbul {
		config.IstanbulBlock = zero
	}
	if hf >= MuirGlacier {
		config.MuirGlacierBlock = zero
	}
	if hf >= Berlin {
		config.BerlinBlock = zero
	}
	if hf >= London {
		config.LondonBlock = zero
	}
	if hf >= ArrowGlacier {
		config.ArrowGlacierBlock = zero
	}
	if hf >= GrayGlacier {
		config.GrayGlacierBlock = zero
	}
	if hf >= Merge {
		config.TerminalTotalDifficulty = zero
		config.MergeNetsplitBlock = zero
	}
	if hf >= Shanghai {
		config.ShanghaiTime = &genesis
	}
	if hf >= Cancun {
		config.CancunTime = &genesis
	}
	if hf >= Prague {
		config.PragueTime = &genesis
	}
	return config
}

type registryKey struct {
	chainID   uint64
	networkID uint64
	hardfork  Hardfork
}

// Registry hands out one Descriptor per distinct (chain id, network id,
// hardfork), building them on first use.
type Registry struct {
	mu          sync.Mutex
	descriptors map[registryKey]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[registryKey]*Descriptor)}
}

func (r *Registry) Get(chainID, networkID uint64, hardfork Hardfork) *Descriptor {
	key := registryKey{chainID: chainID, networkID: networkID, hardfork: hardfork}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.descriptors[key]; ok {
		return d
	}
	d := NewDescriptor(chainID, networkID, hardfork)
	r.descriptors[key] = d
	return d
}

// Len returns the number of descriptors built so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.descriptors)
}
