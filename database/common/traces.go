package common

import (
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DQYXACML/forkstate/tracing"
)

// CachedTrace is the step trace of a transaction under one tracer config.
type CachedTrace struct {
	GUID        uuid.UUID            `gorm:"primaryKey" json:"guid"`
	TxHash      common.Hash          `gorm:"serializer:bytes;uniqueIndex:idx_trace_key" json:"tx_hash"`
	ConfigKey   string               `gorm:"uniqueIndex:idx_trace_key" json:"config_key"`
	BlockNumber *big.Int             `gorm:"serializer:u256" json:"block_number"`
	Result      *tracing.TraceResult `gorm:"serializer:json" json:"result"`
	CreatedAt   time.Time            `json:"created_at"`
}

func (CachedTrace) TableName() string {
	return "cached_traces"
}

// ConfigKey identifies a tracer config. A nil config and the zero config
// share a key.
func ConfigKey(cfg *tracing.Config) string {
	if cfg == nil {
		cfg = &tracing.Config{}
	}
	b, _ := json.Marshal(cfg)
	return string(b)
}

func NewCachedTrace(txHash common.Hash, blockNumber *big.Int, cfg *tracing.Config, result *tracing.TraceResult) CachedTrace {
	return CachedTrace{
		GUID:        uuid.New(),
		TxHash:      txHash,
		ConfigKey:   ConfigKey(cfg),
		BlockNumber: new(big.Int).Set(blockNumber),
		Result:      result,
	}
}

type TracesView interface {
	Trace(txHash common.Hash, cfg *tracing.Config) (*CachedTrace, error)
}

type TracesDB interface {
	TracesView

	StoreTrace(CachedTrace) error
	DeleteTracesAbove(number *big.Int) error
}

type tracesDB struct {
	gorm *gorm.DB
}

func NewTracesDB(db *gorm.DB) TracesDB {
	return &tracesDB{gorm: db}
}

func (db *tracesDB) Trace(txHash common.Hash, cfg *tracing.Config) (*CachedTrace, error) {
	var trace CachedTrace
	result := db.gorm.Table("cached_traces").
		Where(&CachedTrace{TxHash: txHash, ConfigKey: ConfigKey(cfg)}).
		Take(&trace)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &trace, nil
}

func (db *tracesDB) StoreTrace(trace CachedTrace) error {
	result := db.gorm.Table("cached_traces").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "config_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"result", "block_number"}),
		}).
		Create(&trace)
	return result.Error
}

// DeleteTracesAbove drops traces of blocks after number.
func (db *tracesDB) DeleteTracesAbove(number *big.Int) error {
	result := db.gorm.Table("cached_traces").Where("block_number > ?", number.String()).Delete(&CachedTrace{})
	return result.Error
}
