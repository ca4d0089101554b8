package forkstate

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/node"
)

const (
	remoteHeaderCacheSize = 256
	headerLookupTimeout   = 10 * time.Second
)

// headerChain indexes the headers the node knows: locally mined ones, and
// remote ones up to the fork block when forking.
type headerChain struct {
	mu     sync.RWMutex
	local  map[uint64]*types.Header
	latest *types.Header

	client    node.EthClient
	forkBlock uint64
	remote    *lru.Cache
}

// newHeaderChain starts a chain at head. client is nil for a fresh local
// chain, in which case head is its genesis.
func newHeaderChain(client node.EthClient, head *types.Header) (*headerChain, error) {
	c := &headerChain{
		local:  map[uint64]*types.Header{head.Number.Uint64(): head},
		latest: head,
		client: client,
	}
	if client != nil {
		cache, err := lru.New(remoteHeaderCacheSize)
		if err != nil {
			return nil, err
		}
		c.remote = cache
		c.forkBlock = head.Number.Uint64()
	}
	return c, nil
}

func (c *headerChain) Latest() *types.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

func (c *headerChain) append(header *types.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[header.Number.Uint64()] = header
	c.latest = header
}

// HeaderByNumber returns the header of a local block, or of a remote block
// at or before the fork block.
func (c *headerChain) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	c.mu.RLock()
	header, ok := c.local[number]
	c.mu.RUnlock()
	if ok {
		return header, nil
	}

	if c.client == nil || number > c.forkBlock {
		return nil, errs.Input("unknown block %d", number)
	}
	if cached, ok := c.remote.Get(number); ok {
		return cached.(*types.Header), nil
	}
	header, err := c.client.BlockHeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, errs.Input("remote block %d not found", number)
	}
	c.remote.Add(number, header)
	return header, nil
}

// GetHeaderByNumber serves BLOCKHASH lookups.
func (c *headerChain) GetHeaderByNumber(number uint64) *types.Header {
	ctx, cancel := context.WithTimeout(context.Background(), headerLookupTimeout)
	defer cancel()

	header, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		log.Debug("header lookup failed", "number", number, "err", err)
		return nil
	}
	return header
}
