package tracing

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
)

// SessionHooks are the callbacks a tracing session attaches to an engine.
type SessionHooks struct {
	BeforeCall gethtracing.EnterHook
	Step       gethtracing.OpcodeHook
	AfterCall  gethtracing.ExitHook
}

// MessageTrace is one call frame and the frames it spawned.
type MessageTrace struct {
	Type     string          `json:"type"`
	From     common.Address  `json:"from"`
	To       common.Address  `json:"to"`
	Input    hexutil.Bytes   `json:"input"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Gas      hexutil.Uint64  `json:"gas"`
	GasUsed  hexutil.Uint64  `json:"gasUsed"`
	Output   hexutil.Bytes   `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Reverted bool            `json:"reverted,omitempty"`
	Steps    int             `json:"steps"`
	Calls    []*MessageTrace `json:"calls,omitempty"`
}

// MessageTracer builds call trees from the hooks of a tracing session. Every
// top-level frame becomes a separate tree.
type MessageTracer struct {
	mu    sync.Mutex
	stack []*MessageTrace
	roots []*MessageTrace
}

func NewMessageTracer() *MessageTracer {
	return &MessageTracer{}
}

func (m *MessageTracer) Hooks() SessionHooks {
	return SessionHooks{
		BeforeCall: m.onEnter,
		Step:       m.onStep,
		AfterCall:  m.onExit,
	}
}

func (m *MessageTracer) onEnter(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame := &MessageTrace{
		Type:  vm.OpCode(typ).String(),
		From:  from,
		To:    to,
		Input: common.CopyBytes(input),
		Gas:   hexutil.Uint64(gas),
	}
	if value != nil {
		frame.Value = (*hexutil.Big)(new(big.Int).Set(value))
	}
	if len(m.stack) > 0 {
		parent := m.stack[len(m.stack)-1]
		parent.Calls = append(parent.Calls, frame)
	} else {
		m.roots = append(m.roots, frame)
	}
	m.stack = append(m.stack, frame)
}

func (m *MessageTracer) onStep(uint64, byte, uint64, uint64, gethtracing.OpContext, []byte, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stack) > 0 {
		m.stack[len(m.stack)-1].Steps++
	}
}

func (m *MessageTracer) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stack) == 0 {
		return
	}
	frame := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]

	frame.GasUsed = hexutil.Uint64(gasUsed)
	frame.Output = common.CopyBytes(output)
	frame.Reverted = reverted
	if err != nil {
		frame.Error = err.Error()
	}
}

// Traces returns the completed top-level frames.
func (m *MessageTracer) Traces() []*MessageTrace {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*MessageTrace, len(m.roots))
	copy(out, m.roots)
	return out
}

// Reset discards everything recorded.
func (m *MessageTracer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stack = nil
	m.roots = nil
}
