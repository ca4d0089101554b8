package tracing

import (
	"encoding/hex"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/eth/tracers/logger"
	"github.com/pkg/errors"
)

// Config selects what the step tracer records for each opcode.
type Config struct {
	DisableStorage   bool `json:"disableStorage"`
	DisableMemory    bool `json:"disableMemory"`
	DisableStack     bool `json:"disableStack"`
	EnableReturnData bool `json:"enableReturnData"`

	// Limit caps the number of recorded steps. Zero means no limit.
	Limit int `json:"limit"`
}

// StructLog is one executed opcode in the debug_traceTransaction format.
type StructLog struct {
	Pc         uint64            `json:"pc"`
	Op         string            `json:"op"`
	Gas        uint64            `json:"gas"`
	GasCost    uint64            `json:"gasCost"`
	Depth      int               `json:"depth"`
	Error      string            `json:"error,omitempty"`
	Stack      []string          `json:"stack,omitempty"`
	Memory     []string          `json:"memory,omitempty"`
	Storage    map[string]string `json:"storage,omitempty"`
	ReturnData string            `json:"returnData,omitempty"`
	Refund     uint64            `json:"refund,omitempty"`
}

// TraceResult is the output of tracing one transaction.
type TraceResult struct {
	Gas         uint64      `json:"gas"`
	Failed      bool        `json:"failed"`
	ReturnValue string      `json:"returnValue"`
	StructLogs  []StructLog `json:"structLogs"`
}

// StepTracer feeds the opcodes it is shown to go-ethereum's struct logger.
type StepTracer struct {
	limit  int
	steps  int
	logger *logger.StructLogger
}

// NewStepTracer returns a tracer reading refunds and SLOAD values from
// state, which must be the state the traced execution runs on.
func NewStepTracer(cfg *Config, state gethtracing.StateDB) *StepTracer {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	l := logger.NewStructLogger(&logger.Config{
		EnableMemory:     !c.DisableMemory,
		DisableStack:     c.DisableStack,
		DisableStorage:   c.DisableStorage,
		EnableReturnData: c.EnableReturnData,
	})
	l.OnTxStart(&gethtracing.VMContext{StateDB: state}, nil, common.Address{})
	return &StepTracer{limit: c.Limit, logger: l}
}

// OnStep has the signature of an opcode hook.
func (t *StepTracer) OnStep(pc uint64, op byte, gas, cost uint64, scope gethtracing.OpContext, rData []byte, depth int, err error) {
	if t.limit != 0 && t.steps >= t.limit {
		return
	}
	t.steps++
	t.logger.OnOpcode(pc, op, gas, cost, scope, rData, depth, err)
}

// Steps returns the number of recorded steps.
func (t *StepTracer) Steps() int {
	return t.steps
}

// StructLogs returns the steps recorded so far.
func (t *StepTracer) StructLogs() ([]StructLog, error) {
	raw, err := t.logger.GetResult()
	if err != nil {
		return nil, err
	}
	var res struct {
		StructLogs []StructLog `json:"structLogs"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "decode struct logs")
	}
	if res.StructLogs == nil {
		res.StructLogs = make([]StructLog, 0)
	}
	return res.StructLogs, nil
}

// Result assembles the trace of an execution that used gasUsed and returned
// ret.
func (t *StepTracer) Result(gasUsed uint64, failed bool, ret []byte) (*TraceResult, error) {
	logs, err := t.StructLogs()
	if err != nil {
		return nil, err
	}
	return &TraceResult{
		Gas:         gasUsed,
		Failed:      failed,
		ReturnValue: hex.EncodeToString(ret),
		StructLogs:  logs,
	}, nil
}
