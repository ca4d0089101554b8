package serializers

import (
	"context"
	"fmt"
	"math/big"
	"reflect"

	"github.com/holiman/uint256"
	"github.com/jackc/pgtype"
	"gorm.io/gorm/schema"
)

var (
	big10              = big.NewInt(10)
	u256BigIntOverflow = new(big.Int).Exp(big.NewInt(2), big.NewInt(256), nil)

	bigIntType  = reflect.TypeOf((*big.Int)(nil))
	uint256Type = reflect.TypeOf((*uint256.Int)(nil))
)

// U256Serializer stores *big.Int and *uint256.Int fields as NUMERIC(78).
type U256Serializer struct{}

func init() {
	schema.RegisterSerializer("u256", U256Serializer{})
}

func (U256Serializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	} else if field.FieldType != bigIntType && field.FieldType != uint256Type {
		return fmt.Errorf("can only deserialize into a *big.Int or *uint256.Int: %T", field.FieldType)
	}

	bigInt, err := parseNumeric(dbValue)
	if err != nil {
		return err
	}
	if bigInt.Sign() < 0 || bigInt.Cmp(u256BigIntOverflow) >= 0 {
		return fmt.Errorf("deserialized number does not fit a u256: %s", bigInt)
	}

	var value reflect.Value
	if field.FieldType == uint256Type {
		value = reflect.ValueOf(uint256.MustFromBig(bigInt))
	} else {
		value = reflect.ValueOf(bigInt)
	}
	field.ReflectValueOf(ctx, dst).Set(value)
	return nil
}

func parseNumeric(dbValue interface{}) (*big.Int, error) {
	switch v := dbValue.(type) {
	case string:
		bigInt, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("failed to parse string as big.Int: %s", v)
		}
		return bigInt, nil
	case []byte:
		bigInt, ok := new(big.Int).SetString(string(v), 10)
		if !ok {
			return nil, fmt.Errorf("failed to parse bytes as big.Int: %s", string(v))
		}
		return bigInt, nil
	}

	numeric := new(pgtype.Numeric)
	if err := numeric.Scan(dbValue); err != nil {
		return nil, fmt.Errorf("failed to scan value as numeric: %w", err)
	}
	if numeric.Status != pgtype.Present {
		return nil, fmt.Errorf("numeric value is not present: %v", dbValue)
	}

	bigInt := numeric.Int
	if numeric.Exp > 0 {
		factor := new(big.Int).Exp(big10, big.NewInt(int64(numeric.Exp)), nil)
		bigInt.Mul(bigInt, factor)
	}
	return bigInt, nil
}

func (U256Serializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if fieldValue == nil || (field.FieldType.Kind() == reflect.Pointer && reflect.ValueOf(fieldValue).IsNil()) {
		return nil, nil
	}

	switch v := fieldValue.(type) {
	case *uint256.Int:
		return v.Dec(), nil
	case *big.Int:
		if v.Sign() < 0 {
			return nil, fmt.Errorf("cannot serialize negative big.Int as u256: %s", v)
		}
		if v.Cmp(u256BigIntOverflow) >= 0 {
			return nil, fmt.Errorf("cannot serialize big.Int larger than u256: %s", v)
		}
		// decimal string keeps postgres from seeing scientific notation
		return v.String(), nil
	default:
		return nil, fmt.Errorf("can only serialize a *big.Int or *uint256.Int: %T", fieldValue)
	}
}
