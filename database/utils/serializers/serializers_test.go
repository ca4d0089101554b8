package serializers

import (
	"context"
	"math/big"
	"reflect"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"

	"github.com/DQYXACML/forkstate/database/utils"
)

type record struct {
	Amount  *big.Int         `gorm:"serializer:u256"`
	Balance *uint256.Int     `gorm:"serializer:u256"`
	Hash    common.Hash      `gorm:"serializer:bytes"`
	Address *common.Address  `gorm:"serializer:bytes"`
	Hashes  utils.Hashes     `gorm:"serializer:bytes"`
	Header  *utils.RLPHeader `gorm:"serializer:rlp"`
}

func lookup(t *testing.T, name string) *schema.Field {
	t.Helper()
	s, err := schema.Parse(&record{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	field := s.LookUpField(name)
	require.NotNil(t, field)
	return field
}

func TestU256Serializer(t *testing.T) {
	ctx := context.Background()
	ser := U256Serializer{}

	t.Run("BigInt", func(t *testing.T) {
		field := lookup(t, "Amount")
		value, err := ser.Value(ctx, field, reflect.Value{}, big.NewInt(2_000_000_000))
		require.NoError(t, err)
		assert.Equal(t, "2000000000", value)

		var r record
		require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), "2000000000"))
		assert.Equal(t, big.NewInt(2_000_000_000), r.Amount)

		require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), []byte("7")))
		assert.Equal(t, big.NewInt(7), r.Amount)
	})

	t.Run("Uint256", func(t *testing.T) {
		field := lookup(t, "Balance")
		value, err := ser.Value(ctx, field, reflect.Value{}, uint256.NewInt(99))
		require.NoError(t, err)
		assert.Equal(t, "99", value)

		var r record
		require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), "99"))
		assert.Equal(t, uint256.NewInt(99), r.Balance)
	})

	t.Run("Nil", func(t *testing.T) {
		field := lookup(t, "Amount")
		value, err := ser.Value(ctx, field, reflect.Value{}, (*big.Int)(nil))
		require.NoError(t, err)
		assert.Nil(t, value)

		var r record
		require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), nil))
		assert.Nil(t, r.Amount)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		field := lookup(t, "Amount")
		_, err := ser.Value(ctx, field, reflect.Value{}, big.NewInt(-1))
		assert.Error(t, err)
		_, err = ser.Value(ctx, field, reflect.Value{}, new(big.Int).Set(u256BigIntOverflow))
		assert.Error(t, err)

		var r record
		assert.Error(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), u256BigIntOverflow.String()))
		assert.Error(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), "not a number"))
	})

	t.Run("WrongField", func(t *testing.T) {
		var r record
		assert.Error(t, ser.Scan(ctx, lookup(t, "Hash"), reflect.ValueOf(&r).Elem(), "1"))
	})
}

func TestBytesSerializer(t *testing.T) {
	ctx := context.Background()
	ser := BytesSerializer{}
	hash := common.HexToHash("0xabcdef")

	t.Run("Hash", func(t *testing.T) {
		field := lookup(t, "Hash")
		value, err := ser.Value(ctx, field, reflect.Value{}, hash)
		require.NoError(t, err)
		assert.Equal(t, hash.Hex(), value)

		var r record
		require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), hash.Hex()))
		assert.Equal(t, hash, r.Hash)
	})

	t.Run("PointerField", func(t *testing.T) {
		field := lookup(t, "Address")
		addr := common.HexToAddress("0x000000000000000000000000000000000000beef")

		value, err := ser.Value(ctx, field, reflect.Value{}, &addr)
		require.NoError(t, err)
		assert.Equal(t, hexLower(addr.Bytes()), value)

		var r record
		require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), value))
		require.NotNil(t, r.Address)
		assert.Equal(t, addr, *r.Address)
	})

	t.Run("Hashes", func(t *testing.T) {
		field := lookup(t, "Hashes")
		hashes := utils.Hashes{hash, common.HexToHash("0x01")}

		value, err := ser.Value(ctx, field, reflect.Value{}, hashes)
		require.NoError(t, err)

		var r record
		require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), value))
		assert.Equal(t, hashes, r.Hashes)
	})

	t.Run("InvalidHex", func(t *testing.T) {
		var r record
		assert.Error(t, ser.Scan(ctx, lookup(t, "Hash"), reflect.ValueOf(&r).Elem(), "zz"))
		assert.Error(t, ser.Scan(ctx, lookup(t, "Hash"), reflect.ValueOf(&r).Elem(), 42))
	})
}

func TestRLPSerializer(t *testing.T) {
	ctx := context.Background()
	ser := RLPSerializer{}
	field := lookup(t, "Header")

	header := &types.Header{
		ParentHash: common.HexToHash("0x01"),
		Number:     big.NewInt(101),
		GasLimit:   30_000_000,
		GasUsed:    21_000,
		Time:       1_700_000_101,
		Difficulty: big.NewInt(0),
		BaseFee:    big.NewInt(7),
		Root:       common.HexToHash("0x02"),
	}

	value, err := ser.Value(ctx, field, reflect.Value{}, (*utils.RLPHeader)(header))
	require.NoError(t, err)

	var r record
	require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&r).Elem(), value))
	require.NotNil(t, r.Header)
	assert.Equal(t, header.Hash(), r.Header.Hash())
	assert.Equal(t, big.NewInt(7), r.Header.Header().BaseFee)
}

func hexLower(b []byte) string {
	return "0x" + common.Bytes2Hex(b)
}
