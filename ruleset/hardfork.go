package ruleset

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hardfork is a named bundle of protocol rules. Values are ordered by
// activation on mainnet, so comparisons between them are meaningful.
type Hardfork int

const (
	Chainstart Hardfork = iota
	Homestead
	DAO
	TangerineWhistle
	SpuriousDragon
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	MuirGlacier
	Berlin
	London
	ArrowGlacier
	GrayGlacier
	Merge
	Shanghai
	Cancun
	Prague
)

// Latest is the newest hardfork this package can build rules for.
const Latest = Prague

var hardforkNames = [...]string{
	Chainstart:       "chainstart",
	Homestead:        "homestead",
	DAO:              "dao",
	TangerineWhistle: "tangerineWhistle",
	SpuriousDragon:   "spuriousDragon",
	Byzantium:        "byzantium",
	Constantinople:   "constantinople",
	Petersburg:       "petersburg",
	Istanbul:         "istanbul",
	MuirGlacier:      "muirGlacier",
	Berlin:           "berlin",
	London:           "london",
	ArrowGlacier:     "arrowGlacier",
	GrayGlacier:      "grayGlacier",
	Merge:            "merge",
	Shanghai:         "shanghai",
	Cancun:           "cancun",
	Prague:           "prague",
}

func (h Hardfork) String() string {
	if h < Chainstart || h > Latest {
		return fmt.Sprintf("hardfork(%d)", int(h))
	}
	return hardforkNames[h]
}

// Valid reports whether h names a known hardfork.
func (h Hardfork) Valid() bool {
	return h >= Chainstart && h <= Latest
}

// ParseHardfork resolves a hardfork name. Matching ignores case, and
// "paris" is accepted for the merge.
func ParseHardfork(name string) (Hardfork, error) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "paris") {
		return Merge, nil
	}
	for i, n := range hardforkNames {
		if strings.EqualFold(n, name) {
			return Hardfork(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hardfork %q", name)
}

func (h Hardfork) MarshalText() ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("invalid hardfork %d", int(h))
	}
	return []byte(h.String()), nil
}

func (h *Hardfork) UnmarshalText(text []byte) error {
	parsed, err := ParseHardfork(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (h *Hardfork) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	return h.UnmarshalText([]byte(name))
}
