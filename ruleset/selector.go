package ruleset

import (
	"fmt"
	"sort"
	"strings"
)

// Selector maps a block number to the hardfork that governs it.
type Selector interface {
	SelectHardfork(blockNumber uint64) (Hardfork, error)
}

// SelectorFunc adapts a plain function to Selector.
type SelectorFunc func(blockNumber uint64) (Hardfork, error)

func (f SelectorFunc) SelectHardfork(blockNumber uint64) (Hardfork, error) {
	return f(blockNumber)
}

// Fixed selects the same hardfork for every block.
func Fixed(h Hardfork) Selector {
	return SelectorFunc(func(uint64) (Hardfork, error) { return h, nil })
}

// Activation is the first block a hardfork governs.
type Activation struct {
	Block    uint64   `json:"block" yaml:"block"`
	Hardfork Hardfork `json:"hardfork" yaml:"hardfork"`
}

// History is a chain's hardfork activation schedule.
type History []Activation

// At returns the latest hardfork activated at or before blockNumber.
func (h History) At(blockNumber uint64) (Hardfork, bool) {
	found := false
	var best Activation
	for _, a := range h {
		if a.Block > blockNumber {
			continue
		}
		if !found || a.Block > best.Block || (a.Block == best.Block && a.Hardfork > best.Hardfork) {
			best = a
			found = true
		}
	}
	return best.Hardfork, found
}

func (h History) String() string {
	sorted := make(History, len(h))
	copy(sorted, h)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Block < sorted[j].Block })

	parts := make([]string, 0, len(sorted))
	for _, a := range sorted {
		parts = append(parts, fmt.Sprintf("%s@%d", a.Hardfork, a.Block))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MainnetHistory is the activation schedule of Ethereum mainnet.
var MainnetHistory = History{
	{Block: 0, Hardfork: Chainstart},
	{Block: 1_150_000, Hardfork: Homestead},
	{Block: 1_920_000, Hardfork: DAO},
	{Block: 2_463_000, Hardfork: TangerineWhistle},
	{Block: 2_675_000, Hardfork: SpuriousDragon},
	{Block: 4_370_000, Hardfork: Byzantium},
	{Block: 7_280_000, Hardfork: Constantinople},
	{Block: 7_280_000, Hardfork: Petersburg},
	{Block: 9_069_000, Hardfork: Istanbul},
	{Block: 9_200_000, Hardfork: MuirGlacier},
	{Block: 12_244_000, Hardfork: Berlin},
	{Block: 12_965_000, Hardfork: London},
	{Block: 13_773_000, Hardfork: ArrowGlacier},
	{Block: 15_050_000, Hardfork: GrayGlacier},
	{Block: 15_537_394, Hardfork: Merge},
	{Block: 17_034_870, Hardfork: Shanghai},
	{Block: 19_426_587, Hardfork: Cancun},
	{Block: 22_431_084, Hardfork: Prague},
}

// SepoliaHistory is the activation schedule of the Sepolia testnet.
var SepoliaHistory = History{
	{Block: 0, Hardfork: GrayGlacier},
	{Block: 1_450_409, Hardfork: Merge},
	{Block: 2_990_908, Hardfork: Shanghai},
	{Block: 5_187_023, Hardfork: Cancun},
	{Block: 7_836_331, Hardfork: Prague},
}

// KnownHistories holds the built-in schedules keyed by chain id.
var KnownHistories = map[uint64]History{
	1:        MainnetHistory,
	11155111: SepoliaHistory,
}

// ActivationSelector picks the configured hardfork for locally produced
// blocks and falls back to the remote chain's schedule for blocks that
// precede the fork.
type ActivationSelector struct {
	// Hardfork governs every block at or after ForkBlock, or every block
	// when not forking.
	Hardfork Hardfork

	// ForkBlock is nil when the node is not forking.
	ForkBlock *uint64

	// RemoteChainID is only used in error messages.
	RemoteChainID uint64
	History       History
}

// NewActivationSelector builds a selector for a forked chain. When history
// is nil the built-in schedule for remoteChainID is used.
func NewActivationSelector(hardfork Hardfork, forkBlock uint64, remoteChainID uint64, history History) *ActivationSelector {
	if history == nil {
		history = KnownHistories[remoteChainID]
	}
	return &ActivationSelector{
		Hardfork:      hardfork,
		ForkBlock:     &forkBlock,
		RemoteChainID: remoteChainID,
		History:       history,
	}
}

func (s *ActivationSelector) SelectHardfork(blockNumber uint64) (Hardfork, error) {
	if s.ForkBlock == nil || blockNumber >= *s.ForkBlock {
		return s.Hardfork, nil
	}
	if len(s.History) == 0 {
		return 0, fmt.Errorf("no known hardfork for execution on historical block %d in chain with id %d",
			blockNumber, s.RemoteChainID)
	}
	hf, ok := s.History.At(blockNumber)
	if !ok {
		return 0, fmt.Errorf("could not find a hardfork to run for block %d in activation history %s",
			blockNumber, s.History)
	}
	return hf, nil
}
