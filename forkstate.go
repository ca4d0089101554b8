package forkstate

import (
	"context"
	"errors"
	"math/big"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DQYXACML/forkstate/adapter"
	"github.com/DQYXACML/forkstate/backend"
	"github.com/DQYXACML/forkstate/common/tasks"
	"github.com/DQYXACML/forkstate/config"
	"github.com/DQYXACML/forkstate/database"
	dbcommon "github.com/DQYXACML/forkstate/database/common"
	"github.com/DQYXACML/forkstate/engine"
	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/node"
	"github.com/DQYXACML/forkstate/ruleset"
	"github.com/DQYXACML/forkstate/tracing"
	"github.com/DQYXACML/forkstate/txmgr"
)

// Node is a local chain, optionally forked from a remote one. It mines
// pending transactions into blocks, answers calls against any known block
// and traces mined or remote transactions.
type Node struct {
	cfg *config.Config

	client  node.EthClient
	backend backend.Backend
	engine  *engine.Engine
	adapter *adapter.Adapter
	chain   *headerChain
	db      *database.DB

	mu      sync.Mutex
	pending []txmgr.Tx
	blocks  map[uint64]*txmgr.Block
	txIndex map[common.Hash]uint64

	registry   *prometheus.Registry
	metricsSrv *http.Server
	metricsLn  net.Listener

	tasks   tasks.Group
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// NewNode builds a node from cfg. With a fork url it dials the remote chain
// and forks at the configured block, or at the remote head when none is set.
func NewNode(ctx context.Context, cfg *config.Config) (*Node, error) {
	n := &Node{
		cfg:     cfg,
		blocks:  make(map[uint64]*txmgr.Block),
		txIndex: make(map[common.Hash]uint64),
	}

	registry := ruleset.NewRegistry()
	adapterCfg := adapter.Config{
		ChainID:   cfg.Chain.ChainId,
		NetworkID: cfg.Chain.NetworkId,
		Selector:  ruleset.Fixed(cfg.Chain.Hardfork),
		Registry:  registry,
	}

	var head *types.Header
	if cfg.Fork.Enabled() {
		client, err := node.DialEthClient(ctx, cfg.Fork.Url)
		if err != nil {
			return nil, err
		}
		n.client = client

		head, err = n.forkHeader(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		networkID, err := client.NetworkID(ctx)
		if err != nil {
			client.Close()
			return nil, errs.Network("query remote network id", err)
		}

		forkBlock := head.Number.Uint64()
		fork, err := backend.NewFork(client, forkBlock, cfg.Fork.CacheSize)
		if err != nil {
			client.Close()
			return nil, err
		}
		n.backend = fork
		adapterCfg.NetworkID = networkID
		adapterCfg.Selector = ruleset.NewActivationSelector(cfg.Chain.Hardfork, forkBlock, networkID,
			cfg.Chain.History(networkID))
		adapterCfg.Fork = &adapter.ForkBoundary{NetworkID: networkID, BlockNumber: forkBlock}
		log.Info("forking remote chain", "url", cfg.Fork.Url, "network", networkID, "block", forkBlock)
	} else {
		local, err := backend.NewLocal()
		if err != nil {
			return nil, err
		}
		n.backend = local
		head, err = n.genesis(registry.Get(cfg.Chain.ChainId, cfg.Chain.NetworkId, cfg.Chain.Hardfork))
		if err != nil {
			return nil, err
		}
	}

	chain, err := newHeaderChain(n.client, head)
	if err != nil {
		n.closeClient()
		return nil, err
	}
	n.chain = chain

	rules := registry.Get(adapterCfg.ChainID, adapterCfg.NetworkID, cfg.Chain.Hardfork)
	n.engine = engine.New(n.backend, chain, rules)
	n.adapter, err = adapter.New(n.backend, n.engine, adapterCfg)
	if err != nil {
		n.closeClient()
		return nil, err
	}

	n.registry = prometheus.NewRegistry()
	if err := n.adapter.Metrics().Register(n.registry); err != nil {
		n.closeClient()
		return nil, err
	}

	if cfg.MasterDB.Enabled() {
		if err := n.openDB(ctx, head.Number); err != nil {
			n.closeClient()
			return nil, err
		}
	}

	n.tasks = tasks.Group{HandleCrit: func(err error) {
		log.Error("background task failed", "err", err)
	}}
	log.Info("node ready", "head", head.Number, "rules", rules)
	return n, nil
}

func (n *Node) forkHeader(ctx context.Context) (*types.Header, error) {
	var number *big.Int
	if n.cfg.Fork.BlockNumber != 0 {
		number = new(big.Int).SetUint64(n.cfg.Fork.BlockNumber)
	}
	header, err := n.client.BlockHeaderByNumber(ctx, number)
	if err != nil {
		return nil, errs.Network("fetch fork block header", err)
	}
	if header == nil {
		return nil, errs.Config("fork block not found on remote chain", nil)
	}
	return header, nil
}

// genesis funds the configured accounts and returns the genesis header of a
// fresh local chain.
func (n *Node) genesis(rules *ruleset.Descriptor) (*types.Header, error) {
	for addr, balance := range n.cfg.Chain.Genesis {
		if err := n.backend.PutAccount(addr, backend.NewAccount(0, balance)); err != nil {
			return nil, pkgerrors.Wrapf(err, "fund genesis account %s", addr)
		}
	}
	root, err := n.backend.StateRoot()
	if err != nil {
		return nil, err
	}

	header := &types.Header{
		ParentHash: common.Hash{},
		UncleHash:  types.EmptyUncleHash,
		Coinbase:   n.cfg.Mining.Coinbase,
		Root:       root,
		TxHash:     types.EmptyTxsHash,
		Number:     new(big.Int),
		GasLimit:   n.cfg.Mining.GasLimit,
		Time:       uint64(time.Now().Unix()),
		Difficulty: new(big.Int),
	}
	setForkFields(header, rules)
	if rules.RequiresBaseFee() {
		header.BaseFee = big.NewInt(params.InitialBaseFee)
	}
	return header, nil
}

func (n *Node) openDB(ctx context.Context, head *big.Int) error {
	db, err := database.NewDB(ctx, n.cfg.MasterDB)
	if err != nil {
		return err
	}
	if n.cfg.Migrations != "" {
		if err := db.ExecuteSQLMigration(n.cfg.Migrations); err != nil {
			db.Close()
			return err
		}
	}
	// Blocks recorded by an earlier run are not part of this chain.
	previous, err := db.Blocks.LatestBlock()
	if err != nil {
		db.Close()
		return err
	}
	if previous != nil && previous.Number.Cmp(head) > 0 {
		log.Info("discarding blocks of an earlier run", "latest", previous.Number, "head", head)
	}
	if err := db.ResetLocalChain(head); err != nil {
		db.Close()
		return err
	}
	n.db = db
	return nil
}

func (n *Node) Adapter() *adapter.Adapter {
	return n.adapter
}

// LatestHeader returns the header of the last sealed block, or the fork
// block when nothing was mined yet.
func (n *Node) LatestHeader() *types.Header {
	return n.chain.Latest()
}

// HeaderByNumber returns a locally mined header or a remote one at or before
// the fork block.
func (n *Node) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	return n.chain.HeaderByNumber(ctx, number)
}

func (n *Node) PendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// SendTransaction queues tx for the next mined block.
func (n *Node) SendTransaction(tx txmgr.Tx) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	hash := tx.Hash()
	if _, ok := n.txIndex[hash]; ok {
		return common.Hash{}, errs.Input("transaction %s already mined", hash)
	}
	for _, p := range n.pending {
		if p.Hash() == hash {
			return common.Hash{}, errs.Input("transaction %s already pending", hash)
		}
	}
	n.pending = append(n.pending, tx)
	log.Debug("queued transaction", "hash", hash, "pending", len(n.pending))
	return hash, nil
}

// Call executes tx against block number, or against the pending block when
// number is nil, without keeping any of its effects. A transaction without a
// gas price runs with a base fee of zero.
func (n *Node) Call(ctx context.Context, tx txmgr.Tx, number *big.Int) (*engine.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.call(ctx, tx, number)
}

// CallTree is Call with a tracing session attached. It returns the call
// frames the transaction produced.
func (n *Node) CallTree(ctx context.Context, tx txmgr.Tx, number *big.Int) ([]*tracing.MessageTrace, *engine.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	tracer := tracing.NewMessageTracer()
	if err := n.adapter.EnableTracing(tracer.Hooks()); err != nil {
		return nil, nil, err
	}
	res, err := n.call(ctx, tx, number)
	if disableErr := n.adapter.DisableTracing(); disableErr != nil {
		err = errors.Join(err, disableErr)
	}
	if err != nil {
		return nil, nil, err
	}
	return tracer.Traces(), res, nil
}

func (n *Node) call(ctx context.Context, tx txmgr.Tx, number *big.Int) (*engine.Result, error) {
	zeroBaseFee := tx.Transaction().GasPrice().Sign() == 0
	if number == nil {
		return n.adapter.DryRun(tx, n.nextHeader(n.chain.Latest()), zeroBaseFee)
	}

	var res *engine.Result
	err := n.inBlockContext(ctx, number.Uint64(), func(header *types.Header) error {
		var err error
		res, err = n.adapter.DryRun(tx, header, zeroBaseFee)
		return err
	})
	return res, err
}

// inBlockContext runs fn with the state positioned after block number and
// restores the current state afterwards.
func (n *Node) inBlockContext(ctx context.Context, number uint64, fn func(header *types.Header) error) (err error) {
	header, err := n.chain.HeaderByNumber(ctx, number)
	if err != nil {
		return err
	}
	if number == n.chain.Latest().Number.Uint64() {
		return fn(header)
	}

	current, err := n.adapter.StateRoot()
	if err != nil {
		return err
	}
	defer func() {
		if restoreErr := n.adapter.RestoreContext(current); restoreErr != nil {
			err = errors.Join(err, pkgerrors.Wrap(restoreErr, "restore state after block context"))
		}
	}()
	if err := n.adapter.SetBlockContext(header, nil); err != nil {
		return err
	}
	return fn(header)
}

// MineBlock seals every pending transaction that fits the block gas limit
// into a new block and credits the block reward to the coinbase. A rejected
// transaction is dropped and the block is discarded; the remaining
// transactions stay pending.
func (n *Node) MineBlock(ctx context.Context) (*types.Header, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	parent := n.chain.Latest()
	header := n.nextHeader(parent)
	if err := n.adapter.StartBlock(); err != nil {
		return nil, err
	}

	var (
		included []*types.Transaction
		senders  []common.Address
		deferred []txmgr.Tx
	)
	rules := n.adapter.Ruleset()
	signer := types.MakeSigner(rules.ChainConfig(), header.Number, header.Time)
	for i, tx := range n.pending {
		if ctx.Err() != nil {
			deferred = append(deferred, n.pending[i:]...)
			break
		}
		if header.GasUsed+tx.Transaction().Gas() > header.GasLimit {
			deferred = append(deferred, tx)
			continue
		}

		msg, err := tx.AsMessage(signer, header.BaseFee)
		if err == nil {
			var res *engine.Result
			res, err = n.adapter.RunTxInBlock(tx, header)
			if err == nil {
				header.GasUsed += res.GasUsed
				included = append(included, tx.Transaction())
				senders = append(senders, msg.From)
				continue
			}
		}

		n.pending = slices.Delete(n.pending, i, i+1)
		log.Warn("dropping rejected transaction", "hash", tx.Hash(), "err", err)
		if revertErr := n.adapter.RevertBlock(); revertErr != nil {
			return nil, errors.Join(err, revertErr)
		}
		return nil, err
	}

	if reward := n.cfg.Mining.BlockReward; reward != nil && reward.Sign() > 0 {
		rewards := []adapter.Reward{{Address: header.Coinbase, Amount: reward}}
		if err := n.adapter.AddBlockRewards(rewards); err != nil {
			return nil, errors.Join(err, n.adapter.RevertBlock())
		}
	}

	root, err := n.adapter.StateRoot()
	if err != nil {
		return nil, errors.Join(err, n.adapter.RevertBlock())
	}
	header.Root = root
	header.TxHash = types.DeriveSha(types.Transactions(included), trie.NewStackTrie(nil))
	if err := n.adapter.SealBlock(); err != nil {
		return nil, err
	}

	n.pending = deferred
	n.index(&txmgr.Block{Header: header, Transactions: included, Senders: senders})
	n.persist(header, included)

	log.Info("mined block", "number", header.Number, "hash", header.Hash(), "txs", len(included),
		"gasUsed", header.GasUsed, "pending", len(n.pending))
	return header, nil
}

func (n *Node) index(block *txmgr.Block) {
	number := block.Number().Uint64()
	n.blocks[number] = block
	for _, tx := range block.Transactions {
		n.txIndex[tx.Hash()] = number
	}
	n.chain.append(block.Header)
}

func (n *Node) persist(header *types.Header, txs []*types.Transaction) {
	if n.db == nil {
		return
	}
	hashes := make([]common.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	if err := n.db.Blocks.StoreBlocks([]dbcommon.SealedBlock{dbcommon.NewSealedBlock(header, hashes)}); err != nil {
		log.Error("failed to store sealed block", "number", header.Number, "err", err)
	}
}

// nextHeader builds the header of the block after parent. Root, TxHash and
// GasUsed are filled in when the block is sealed.
func (n *Node) nextHeader(parent *types.Header) *types.Header {
	rules := n.adapter.Ruleset()
	number := new(big.Int).Add(parent.Number, common.Big1)

	timestamp := uint64(time.Now().Unix())
	if timestamp <= parent.Time {
		timestamp = parent.Time + 1
	}

	header := &types.Header{
		ParentHash: parent.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Coinbase:   n.cfg.Mining.Coinbase,
		Root:       parent.Root,
		TxHash:     types.EmptyTxsHash,
		Number:     number,
		GasLimit:   n.cfg.Mining.GasLimit,
		Time:       timestamp,
		Difficulty: new(big.Int),
	}
	setForkFields(header, rules)
	if rules.RequiresBaseFee() {
		header.BaseFee = nextBaseFee(rules, parent)
	}
	return header
}

// nextBaseFee follows EIP-1559 from parent. A parent that predates London,
// or that was produced by a remote chain without a base fee, starts over
// from the initial base fee.
func nextBaseFee(rules *ruleset.Descriptor, parent *types.Header) *big.Int {
	if parent.BaseFee == nil {
		return big.NewInt(params.InitialBaseFee)
	}
	return eip1559.CalcBaseFee(rules.ChainConfig(), parent)
}

func setForkFields(header *types.Header, rules *ruleset.Descriptor) {
	if rules.Gte(ruleset.Shanghai) {
		header.WithdrawalsHash = &types.EmptyWithdrawalsHash
	}
	if rules.Gte(ruleset.Cancun) {
		zero := uint64(0)
		excess := uint64(0)
		header.BlobGasUsed = &zero
		header.ExcessBlobGas = &excess
		header.ParentBeaconRoot = &common.Hash{}
	}
	if rules.Gte(ruleset.Prague) {
		header.RequestsHash = &types.EmptyRequestsHash
	}
}

// TraceTransaction traces a transaction mined by this node.
func (n *Node) TraceTransaction(ctx context.Context, hash common.Hash, cfg *tracing.Config) (*tracing.TraceResult, error) {
	n.mu.Lock()
	number, ok := n.txIndex[hash]
	n.mu.Unlock()
	if !ok {
		return nil, errs.Input("transaction %s was not mined by this node", hash)
	}
	return n.TraceBlockTransaction(ctx, number, hash, cfg)
}

// TraceBlockTransaction traces the transaction hash of block number, which
// is either mined locally or a remote block at or before the fork block.
// Results are cached when a database is configured.
func (n *Node) TraceBlockTransaction(ctx context.Context, number uint64, hash common.Hash, cfg *tracing.Config) (*tracing.TraceResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cached := n.cachedTrace(hash, cfg); cached != nil {
		return cached, nil
	}
	if number == 0 {
		return nil, errs.Input("cannot trace transactions of the genesis block")
	}

	block, err := n.block(ctx, number)
	if err != nil {
		return nil, err
	}

	var result *tracing.TraceResult
	err = n.inBlockContext(ctx, number-1, func(*types.Header) error {
		var err error
		result, err = n.adapter.TraceTransaction(hash, block, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}

	if n.db != nil {
		trace := dbcommon.NewCachedTrace(hash, block.Number(), cfg, result)
		if err := n.db.Traces.StoreTrace(trace); err != nil {
			log.Warn("failed to cache trace", "tx", hash, "err", err)
		}
	}
	return result, nil
}

func (n *Node) cachedTrace(hash common.Hash, cfg *tracing.Config) *tracing.TraceResult {
	if n.db == nil {
		return nil
	}
	cached, err := n.db.Traces.Trace(hash, cfg)
	if err != nil {
		log.Warn("failed to read trace cache", "tx", hash, "err", err)
		return nil
	}
	if cached == nil {
		return nil
	}
	log.Debug("serving cached trace", "tx", hash)
	return cached.Result
}

func (n *Node) block(ctx context.Context, number uint64) (*txmgr.Block, error) {
	if block, ok := n.blocks[number]; ok {
		return block, nil
	}
	fork := n.adapter.ForkBoundary()
	if fork == nil || number > fork.BlockNumber {
		return nil, errs.Input("unknown block %d", number)
	}
	block, err := n.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, errs.Network("fetch remote block", err)
	}
	if block == nil {
		return nil, errs.Input("remote block %d not found", number)
	}
	return block, nil
}

// Start mines a block every configured interval. With no interval blocks
// are only mined by MineBlock.
func (n *Node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)
	if n.cfg.MetricsAddr != "" {
		if err := n.serveMetrics(n.cfg.MetricsAddr); err != nil {
			return err
		}
	}

	interval := n.cfg.Mining.Interval
	if interval <= 0 {
		log.Info("automatic mining disabled")
		return nil
	}

	n.tasks.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := n.MineBlock(ctx); err != nil {
					log.Error("failed to mine block", "err", err)
				}
			}
		}
	})
	log.Info("mining started", "interval", interval)
	return nil
}

func (n *Node) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return pkgerrors.Wrapf(err, "listen for metrics on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	n.metricsLn = ln
	n.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	n.tasks.Go(func() error {
		if err := n.metricsSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	log.Info("serving metrics", "addr", ln.Addr())
	return nil
}

// MetricsAddr returns the address metrics are served on, or "" when the
// endpoint is disabled or not started.
func (n *Node) MetricsAddr() string {
	if n.metricsLn == nil {
		return ""
	}
	return n.metricsLn.Addr().String()
}

func (n *Node) Stop(ctx context.Context) error {
	if n.cancel != nil {
		n.cancel()
	}
	var result error
	if n.metricsSrv != nil {
		if err := n.metricsSrv.Shutdown(ctx); err != nil {
			result = errors.Join(result, pkgerrors.Wrap(err, "stop metrics server"))
		}
	}
	if err := n.tasks.Wait(); err != nil {
		result = errors.Join(result, err)
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			result = errors.Join(result, pkgerrors.Wrap(err, "close database"))
		}
	}
	n.closeClient()
	n.stopped.Store(true)
	log.Info("node stopped")
	return result
}

func (n *Node) Stopped() bool {
	return n.stopped.Load()
}

func (n *Node) closeClient() {
	if n.client != nil {
		n.client.Close()
	}
}
