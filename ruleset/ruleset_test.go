package ruleset

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseHardfork(t *testing.T) {
	for _, h := range []Hardfork{Chainstart, SpuriousDragon, London, Merge, Prague} {
		parsed, err := ParseHardfork(h.String())
		require.NoError(t, err)
		assert.Equal(t, h, parsed)
	}

	parsed, err := ParseHardfork("Paris")
	require.NoError(t, err)
	assert.Equal(t, Merge, parsed)

	_, err = ParseHardfork("osaka")
	assert.Error(t, err)
}

func TestHardforkYAML(t *testing.T) {
	var history History
	doc := `
- block: 0
  hardfork: berlin
- block: 100
  hardfork: London
`
	require.NoError(t, yaml.Unmarshal([]byte(doc), &history))
	require.Len(t, history, 2)
	assert.Equal(t, Berlin, history[0].Hardfork)
	assert.Equal(t, London, history[1].Hardfork)
	assert.Equal(t, uint64(100), history[1].Block)

	var bad Hardfork
	assert.Error(t, yaml.Unmarshal([]byte(`notafork`), &bad))
}

func TestDescriptorChainConfig(t *testing.T) {
	t.Run("Berlin", func(t *testing.T) {
		d := NewDescriptor(1337, 1337, Berlin)
		cfg := d.ChainConfig()
		zero := big.NewInt(0)

		assert.True(t, cfg.IsBerlin(zero))
		assert.False(t, cfg.IsLondon(zero))
		assert.False(t, d.RequiresBaseFee())
		assert.Equal(t, uint64(1337), cfg.ChainID.Uint64())
	})

	t.Run("Cancun", func(t *testing.T) {
		d := NewDescriptor(31337, 1, Cancun)
		cfg := d.ChainConfig()

		assert.True(t, cfg.IsLondon(big.NewInt(0)))
		assert.True(t, cfg.IsCancun(big.NewInt(0), 0))
		assert.False(t, cfg.IsPrague(big.NewInt(0), 0))
		assert.True(t, d.RequiresBaseFee())
		assert.True(t, d.Gte(Merge))
		assert.False(t, d.Gte(Prague))
	})

	t.Run("Chainstart", func(t *testing.T) {
		d := NewDescriptor(1, 1, Chainstart)
		assert.False(t, d.ChainConfig().IsHomestead(big.NewInt(0)))
		assert.False(t, d.Gte(SpuriousDragon))
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	a := r.Get(1, 1, London)
	b := r.Get(1, 1, London)
	c := r.Get(31337, 1, London)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())
}

func TestActivationSelector(t *testing.T) {
	s := NewActivationSelector(Cancun, 15_000_000, 1, nil)

	tests := []struct {
		name  string
		block uint64
		want  Hardfork
	}{
		{"fork block uses configured", 15_000_000, Cancun},
		{"after fork uses configured", 20_000_000, Cancun},
		{"just before fork", 14_999_999, ArrowGlacier},
		{"london activation", 12_965_000, London},
		{"petersburg wins tie", 7_280_000, Petersburg},
		{"genesis", 0, Chainstart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SelectHardfork(tt.block)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := s.SelectHardfork(tt.block)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestActivationSelectorErrors(t *testing.T) {
	t.Run("UnknownNetwork", func(t *testing.T) {
		s := NewActivationSelector(London, 100, 999, nil)
		_, err := s.SelectHardfork(50)
		assert.Error(t, err)

		hf, err := s.SelectHardfork(100)
		require.NoError(t, err)
		assert.Equal(t, London, hf)
	})

	t.Run("BelowFirstActivation", func(t *testing.T) {
		s := NewActivationSelector(London, 100, 5, History{{Block: 10, Hardfork: Berlin}})
		_, err := s.SelectHardfork(5)
		assert.Error(t, err)

		hf, err := s.SelectHardfork(10)
		require.NoError(t, err)
		assert.Equal(t, Berlin, hf)
	})

	t.Run("NotForking", func(t *testing.T) {
		s := &ActivationSelector{Hardfork: Shanghai}
		hf, err := s.SelectHardfork(0)
		require.NoError(t, err)
		assert.Equal(t, Shanghai, hf)
	})
}
