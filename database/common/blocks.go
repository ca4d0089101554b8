package common

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/DQYXACML/forkstate/database/utils"
)

// SealedBlock is a block the node mined locally.
type SealedBlock struct {
	GUID       uuid.UUID    `gorm:"primaryKey" json:"guid"`
	Hash       common.Hash  `gorm:"serializer:bytes;uniqueIndex" json:"hash"`
	ParentHash common.Hash  `gorm:"serializer:bytes" json:"parent_hash"`
	Number     *big.Int     `gorm:"serializer:u256;uniqueIndex" json:"number"`
	Timestamp  uint64       `json:"timestamp"`
	StateRoot  common.Hash  `gorm:"serializer:bytes" json:"state_root"`
	GasUsed    uint64       `json:"gas_used"`
	TxHashes   utils.Hashes `gorm:"serializer:bytes;column:tx_hashes" json:"tx_hashes"`

	RLPHeader *utils.RLPHeader `gorm:"serializer:rlp;column:rlp_bytes" json:"-"`
}

func (SealedBlock) TableName() string {
	return "sealed_blocks"
}

// NewSealedBlock builds the record of a sealed header and the hashes of its
// transactions.
func NewSealedBlock(header *types.Header, txHashes []common.Hash) SealedBlock {
	return SealedBlock{
		GUID:       uuid.New(),
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Number:     new(big.Int).Set(header.Number),
		Timestamp:  header.Time,
		StateRoot:  header.Root,
		GasUsed:    header.GasUsed,
		TxHashes:   txHashes,
		RLPHeader:  (*utils.RLPHeader)(types.CopyHeader(header)),
	}
}

func (b *SealedBlock) Header() *types.Header {
	if b.RLPHeader == nil {
		return nil
	}
	return b.RLPHeader.Header()
}

type BlocksView interface {
	LatestBlock() (*SealedBlock, error)
	BlockByNumber(number *big.Int) (*SealedBlock, error)
	BlockByHash(hash common.Hash) (*SealedBlock, error)
	BlockWithScope(func(db *gorm.DB) *gorm.DB) (*SealedBlock, error)
}

type BlocksDB interface {
	BlocksView

	StoreBlocks([]SealedBlock) error
	DeleteBlocksAbove(number *big.Int) error
}

type blocksDB struct {
	gorm *gorm.DB
}

func NewBlocksDB(db *gorm.DB) BlocksDB {
	return &blocksDB{gorm: db}
}

func (db *blocksDB) StoreBlocks(blocks []SealedBlock) error {
	result := db.gorm.Table("sealed_blocks").CreateInBatches(&blocks, len(blocks))
	return result.Error
}

// DeleteBlocksAbove drops blocks after number. Local blocks do not outlive
// the in-memory state they were mined on.
func (db *blocksDB) DeleteBlocksAbove(number *big.Int) error {
	result := db.gorm.Table("sealed_blocks").Where("number > ?", number.String()).Delete(&SealedBlock{})
	return result.Error
}

func (db *blocksDB) LatestBlock() (*SealedBlock, error) {
	return db.BlockWithScope(func(tx *gorm.DB) *gorm.DB {
		return tx.Order("number DESC")
	})
}

func (db *blocksDB) BlockByNumber(number *big.Int) (*SealedBlock, error) {
	return db.BlockWithScope(func(tx *gorm.DB) *gorm.DB {
		return tx.Where("number = ?", number.String())
	})
}

func (db *blocksDB) BlockByHash(hash common.Hash) (*SealedBlock, error) {
	return db.BlockWithScope(func(tx *gorm.DB) *gorm.DB {
		return tx.Where(&SealedBlock{Hash: hash})
	})
}

func (db *blocksDB) BlockWithScope(scope func(db *gorm.DB) *gorm.DB) (*SealedBlock, error) {
	var block SealedBlock
	result := db.gorm.Table("sealed_blocks").Scopes(scope).Take(&block)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &block, nil
}
