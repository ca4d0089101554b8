package node

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/txmgr"
)

const (
	defaultDialTimeout = 5 * time.Second

	defaultRequestTimeout = 30 * time.Second
)

// EthClient is the view of a remote chain the forked backend needs.
type EthClient interface {
	ethereum.ChainStateReader

	ChainID(ctx context.Context) (uint64, error)
	NetworkID(ctx context.Context) (uint64, error)
	BlockHeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*txmgr.Block, error)

	Close()
}

type RPC interface {
	Close()
	CallContext(ctx context.Context, result any, method string, args ...any) error
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

type client struct {
	rpc      RPC
	timeout  time.Duration
	recovery *errs.Recovery
}

func DialEthClient(ctx context.Context, rpcUrl string) (EthClient, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial address (%s): %w", rpcUrl, err)
	}

	return NewClient(NewRPC(rpcClient)), nil
}

// NewClient wraps an RPC connection. Failed calls are retried with
// exponential backoff.
func NewClient(r RPC) EthClient {
	return &client{
		rpc:      r,
		timeout:  defaultRequestTimeout,
		recovery: errs.NewRecovery(),
	}
}

func (c *client) call(ctx context.Context, result any, method string, args ...any) error {
	return c.recovery.Do(func() error {
		ctxwt, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		if err := c.rpc.CallContext(ctxwt, result, method, args...); err != nil {
			log.Warn("remote call failed", "method", method, "err", err)
			return errs.Network(method, err)
		}
		return nil
	})
}

func (c *client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var balance hexutil.Big
	if err := c.call(ctx, &balance, "eth_getBalance", account, toBlockNumArg(blockNumber)); err != nil {
		return nil, err
	}
	return (*big.Int)(&balance), nil
}

func (c *client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	var nonce hexutil.Uint64
	if err := c.call(ctx, &nonce, "eth_getTransactionCount", account, toBlockNumArg(blockNumber)); err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}

func (c *client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	var code hexutil.Bytes
	if err := c.call(ctx, &code, "eth_getCode", account, toBlockNumArg(blockNumber)); err != nil {
		return nil, err
	}
	return code, nil
}

func (c *client) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	var value hexutil.Bytes
	if err := c.call(ctx, &value, "eth_getStorageAt", account, key, toBlockNumArg(blockNumber)); err != nil {
		return nil, err
	}
	return value, nil
}

func (c *client) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := c.call(ctx, &id, "eth_chainId"); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// NetworkID reads net_version, which nodes return as a decimal string.
func (c *client) NetworkID(ctx context.Context) (uint64, error) {
	var version string
	if err := c.call(ctx, &version, "net_version"); err != nil {
		return 0, err
	}
	id, ok := new(big.Int).SetString(version, 10)
	if !ok || !id.IsUint64() {
		return 0, fmt.Errorf("invalid net_version %q", version)
	}
	return id.Uint64(), nil
}

func (c *client) BlockHeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	if err := c.call(ctx, &header, "eth_getBlockByNumber", toBlockNumArg(number), false); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, ethereum.NotFound
	}
	return header, nil
}

type rpcTxSender struct {
	From common.Address `json:"from"`
}

type rpcBlock struct {
	Transactions []json.RawMessage `json:"transactions"`
}

// BlockByNumber fetches a full block. Senders are taken from the "from" field
// the node reports rather than recovered from signatures.
func (c *client) BlockByNumber(ctx context.Context, number *big.Int) (*txmgr.Block, error) {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, "eth_getBlockByNumber", toBlockNumArg(number), true); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ethereum.NotFound
	}

	var header types.Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("decode block header: %w", err)
	}
	var body rpcBlock
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode block body: %w", err)
	}

	block := &txmgr.Block{
		Header:       &header,
		Transactions: make([]*types.Transaction, len(body.Transactions)),
		Senders:      make([]common.Address, len(body.Transactions)),
	}
	for i, rawTx := range body.Transactions {
		tx := new(types.Transaction)
		if err := tx.UnmarshalJSON(rawTx); err != nil {
			return nil, fmt.Errorf("decode transaction %d: %w", i, err)
		}
		var sender rpcTxSender
		if err := json.Unmarshal(rawTx, &sender); err != nil {
			return nil, fmt.Errorf("decode sender of transaction %d: %w", i, err)
		}
		block.Transactions[i] = tx
		block.Senders[i] = sender.From
	}
	return block, nil
}

func (c *client) Close() {
	c.rpc.Close()
}

type rpcClient struct {
	rpc *rpc.Client
}

func NewRPC(client *rpc.Client) RPC {
	return &rpcClient{client}
}

func (c *rpcClient) Close() {
	c.rpc.Close()
}

func (c *rpcClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	err := c.rpc.CallContext(ctx, result, method, args...)
	return err
}

func (c *rpcClient) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	err := c.rpc.BatchCallContext(ctx, b)
	return err
}

func toBlockNumArg(b *big.Int) string {
	if b == nil {
		return "latest"
	}
	if b.Sign() >= 0 {
		return hexutil.EncodeBig(b)
	}
	return rpc.BlockNumber(b.Int64()).String()
}
