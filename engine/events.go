package engine

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
)

// ListenerID identifies a registered hook so it can be removed later.
type ListenerID uint64

// Events is the engine's registry of execution listeners. Hooks of each kind
// run in registration order.
type Events struct {
	mu     sync.RWMutex
	nextID ListenerID
	enter  map[ListenerID]tracing.EnterHook
	step   map[ListenerID]tracing.OpcodeHook
	exit   map[ListenerID]tracing.ExitHook
}

// EventSource is implemented by engines that expose their event registry.
type EventSource interface {
	Events() *Events
}

func NewEvents() *Events {
	return &Events{
		enter: make(map[ListenerID]tracing.EnterHook),
		step:  make(map[ListenerID]tracing.OpcodeHook),
		exit:  make(map[ListenerID]tracing.ExitHook),
	}
}

func (e *Events) id() ListenerID {
	e.nextID++
	return e.nextID
}

// OnBeforeCall registers a hook run when a call frame is entered.
func (e *Events) OnBeforeCall(hook tracing.EnterHook) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.id()
	e.enter[id] = hook
	return id
}

// OnStep registers a hook run before every opcode.
func (e *Events) OnStep(hook tracing.OpcodeHook) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.id()
	e.step[id] = hook
	return id
}

// OnAfterCall registers a hook run when a call frame returns.
func (e *Events) OnAfterCall(hook tracing.ExitHook) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.id()
	e.exit[id] = hook
	return id
}

// Remove detaches the listener with the given id. It reports whether a
// listener was removed.
func (e *Events) Remove(id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.enter[id]; ok {
		delete(e.enter, id)
		return true
	}
	if _, ok := e.step[id]; ok {
		delete(e.step, id)
		return true
	}
	if _, ok := e.exit[id]; ok {
		delete(e.exit, id)
		return true
	}
	return false
}

// Len returns the number of registered listeners.
func (e *Events) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.enter) + len(e.step) + len(e.exit)
}

func sortedIDs[T any](m map[ListenerID]T) []ListenerID {
	ids := make([]ListenerID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Hooks snapshots the registered listeners into tracing hooks for one
// execution. It returns nil when nothing is registered.
func (e *Events) Hooks() *tracing.Hooks {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.enter)+len(e.step)+len(e.exit) == 0 {
		return nil
	}

	hooks := &tracing.Hooks{}
	if len(e.enter) > 0 {
		enter := make([]tracing.EnterHook, 0, len(e.enter))
		for _, id := range sortedIDs(e.enter) {
			enter = append(enter, e.enter[id])
		}
		hooks.OnEnter = func(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int) {
			for _, h := range enter {
				h(depth, typ, from, to, input, gas, value)
			}
		}
	}
	if len(e.step) > 0 {
		step := make([]tracing.OpcodeHook, 0, len(e.step))
		for _, id := range sortedIDs(e.step) {
			step = append(step, e.step[id])
		}
		hooks.OnOpcode = func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
			for _, h := range step {
				h(pc, op, gas, cost, scope, rData, depth, err)
			}
		}
	}
	if len(e.exit) > 0 {
		exit := make([]tracing.ExitHook, 0, len(e.exit))
		for _, id := range sortedIDs(e.exit) {
			exit = append(exit, e.exit[id])
		}
		hooks.OnExit = func(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
			for _, h := range exit {
				h(depth, output, gasUsed, err, reverted)
			}
		}
	}
	return hooks
}
