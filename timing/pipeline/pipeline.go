package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/tomasim/emu"
	"github.com/sarchlab/tomasim/insts"
	"github.com/sarchlab/tomasim/timing/cache"
	"github.com/sarchlab/tomasim/timing/latency"
)

// DefaultMaxCycles bounds Run when no limit is configured.
const DefaultMaxCycles = 10000

// Engine errors.
var (
	// ErrQueueEmpty is returned by IssueNext when nothing is left to issue.
	ErrQueueEmpty = errors.New("instruction queue empty")
	// ErrCycleLimit is returned by Run when the cycle budget runs out.
	ErrCycleLimit = errors.New("cycle limit reached")
)

// Hook positions invoked by the pipeline.
var (
	// HookPosIssue fires after an instruction leaves the queue. The item is
	// an IssueEvent.
	HookPosIssue = &sim.HookPos{Name: "Issue"}
	// HookPosBroadcast fires for every result on the common data bus. The
	// item is a Broadcast.
	HookPosBroadcast = &sim.HookPos{Name: "Broadcast"}
	// HookPosCycleEnd fires at the end of every cycle. The item is a
	// Snapshot.
	HookPosCycleEnd = &sim.HookPos{Name: "CycleEnd"}
)

// IssueEvent describes an instruction that was accepted by a unit.
type IssueEvent struct {
	Cycle uint64             `json:"cycle"`
	Inst  *insts.Instruction `json:"-"`
	Text  string             `json:"inst"`
	Unit  string             `json:"unit"`
	Tag   Tag                `json:"tag"`
}

// Diagnostic is a non-fatal condition raised while simulating, such as a
// division by zero or a dropped instruction.
type Diagnostic struct {
	Cycle uint64
	Unit  string
	Err   error
}

func (d Diagnostic) Error() string {
	if d.Unit == "" {
		return fmt.Sprintf("cycle %d: %v", d.Cycle, d.Err)
	}
	return fmt.Sprintf("cycle %d: %s: %v", d.Cycle, d.Unit, d.Err)
}

// Unwrap exposes the underlying condition to errors.Is.
func (d Diagnostic) Unwrap() error {
	return d.Err
}

// Statistics holds pipeline performance statistics.
type Statistics struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64 `json:"cycles"`
	// Issued is the number of instructions accepted by a unit.
	Issued uint64 `json:"issued"`
	// Completed is the number of units freed at write-back.
	Completed uint64 `json:"completed"`
	// StructuralStalls counts issue attempts with no free unit.
	StructuralStalls uint64 `json:"structural_stalls"`
	// RegisterStalls counts issue attempts that named an unknown register.
	RegisterStalls uint64 `json:"register_stalls"`
	// Broadcasts is the number of results put on the common data bus.
	Broadcasts uint64 `json:"broadcasts"`
	// Faults counts units that completed without a result.
	Faults uint64 `json:"faults"`
}

// IPC returns the completed instructions per cycle.
func (s Statistics) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Cycles)
}

// CPI returns the cycles per completed instruction.
func (s Statistics) CPI() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Completed)
}

// PoolSizes sets how many units each pool has.
type PoolSizes struct {
	Load   int `json:"load"`
	Store  int `json:"store"`
	AddSub int `json:"add_sub"`
	MulDiv int `json:"mul_div"`
}

// DefaultPoolSizes returns three units per pool.
func DefaultPoolSizes() PoolSizes {
	return PoolSizes{Load: 3, Store: 3, AddSub: 3, MulDiv: 3}
}

// Validate checks that every pool has at least one unit.
func (s PoolSizes) Validate() error {
	if s.Load <= 0 || s.Store <= 0 || s.AddSub <= 0 || s.MulDiv <= 0 {
		return fmt.Errorf("every pool needs at least one unit: %+v", s)
	}
	return nil
}

// PipelineOption is a functional option for configuring the Pipeline.
type PipelineOption func(*Pipeline)

// WithLatencyTable sets a custom latency table for instruction timing.
func WithLatencyTable(table *latency.Table) PipelineOption {
	return func(p *Pipeline) {
		p.latencyTable = table
	}
}

// WithCacheConfig sets the data cache configuration.
func WithCacheConfig(config cache.Config) PipelineOption {
	return func(p *Pipeline) {
		p.cacheConfig = config
	}
}

// WithPoolSizes sets the number of units per pool.
func WithPoolSizes(sizes PoolSizes) PipelineOption {
	return func(p *Pipeline) {
		p.poolSizes = sizes
	}
}

// WithLogger sets the structured logger. Issue, stall and broadcast events
// are logged at Debug; faults at Warn.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMaxCycles bounds Run.
func WithMaxCycles(n uint64) PipelineOption {
	return func(p *Pipeline) {
		p.maxCycles = n
	}
}

// Pipeline is a single-issue Tomasulo engine.
//
// Every cycle runs three phases in a fixed order:
//   - issue: the queue head is dispatched to a free unit of its class, or
//     stays in the queue
//   - advance: load buffers, add/sub stations, mul/div stations, then store
//     buffers each move one cycle forward
//   - write-back: completed loads, stores, add/sub stations and mul/div
//     stations, in that order, broadcast their results and are freed
//
// Units are updated sequentially, so a broadcast is seen by issue and
// advance only from the next cycle.
type Pipeline struct {
	*sim.HookableBase

	regFile *RegFile
	memory  *emu.Memory
	cache   *cache.Cache
	alu     *emu.ALU

	hazardUnit *HazardUnit
	bus        *CommonDataBus

	latencyTable *latency.Table
	cacheConfig  cache.Config
	poolSizes    PoolSizes

	loadBuffers  *LoadBufferPool
	storeBuffers *StoreBufferPool
	addSub       *StationPool
	mulDiv       *StationPool

	// tagNames maps a tag to its unit's display name.
	tagNames []string

	queue []*insts.Instruction

	cycle     uint64
	maxCycles uint64

	stats       Statistics
	diagnostics []Diagnostic

	logger *slog.Logger
}

// NewPipeline creates a Tomasulo pipeline over a register file and memory.
func NewPipeline(regFile *RegFile, memory *emu.Memory, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		HookableBase: sim.NewHookableBase(),
		regFile:      regFile,
		memory:       memory,
		alu:          emu.NewALU(),
		latencyTable: latency.NewTable(),
		cacheConfig:  cache.DefaultConfig(),
		poolSizes:    DefaultPoolSizes(),
		maxCycles:    DefaultMaxCycles,
	}

	// Apply options
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.maxCycles == 0 {
		p.maxCycles = DefaultMaxCycles
	}

	if err := p.cacheConfig.Validate(); err != nil {
		p.logger.Warn("invalid cache config, using default", "err", err)
		p.cacheConfig = cache.DefaultConfig()
	}

	p.cache = cache.New(p.cacheConfig, cache.NewMemoryBacking(memory))
	p.buildPools()

	p.hazardUnit = NewHazardUnit(regFile)
	p.bus = NewCommonDataBus(regFile, p.storeBuffers, p.addSub, p.mulDiv)

	return p
}

func (p *Pipeline) buildPools() {
	sizes := p.poolSizes
	defaults := DefaultPoolSizes()
	if sizes.Load <= 0 {
		sizes.Load = defaults.Load
	}
	if sizes.Store <= 0 {
		sizes.Store = defaults.Store
	}
	if sizes.AddSub <= 0 {
		sizes.AddSub = defaults.AddSub
	}
	if sizes.MulDiv <= 0 {
		sizes.MulDiv = defaults.MulDiv
	}
	p.poolSizes = sizes

	next := Tag(1)
	p.loadBuffers = NewLoadBufferPool(sizes.Load, next)
	next += Tag(sizes.Load)
	p.storeBuffers = NewStoreBufferPool(sizes.Store, next)
	next += Tag(sizes.Store)
	p.addSub = NewStationPool(insts.ClassAddSub, "Add", sizes.AddSub, next)
	next += Tag(sizes.AddSub)
	p.mulDiv = NewStationPool(insts.ClassMulDiv, "Mult", sizes.MulDiv, next)
	next += Tag(sizes.MulDiv)

	p.tagNames = make([]string, next)
	for _, lb := range p.loadBuffers.Buffers() {
		p.tagNames[lb.Tag] = lb.Name
	}
	for _, sb := range p.storeBuffers.Buffers() {
		p.tagNames[sb.Tag] = sb.Name
	}
	for _, pool := range []*StationPool{p.addSub, p.mulDiv} {
		for _, rs := range pool.Stations() {
			p.tagNames[rs.Tag] = rs.Name
		}
	}
}

// Enqueue appends instructions to the queue in program order.
func (p *Pipeline) Enqueue(program ...*insts.Instruction) {
	p.queue = append(p.queue, program...)
}

// Queue returns the instructions not yet issued, head first.
func (p *Pipeline) Queue() []*insts.Instruction {
	out := make([]*insts.Instruction, len(p.queue))
	copy(out, p.queue)
	return out
}

// Cycle returns the number of cycles simulated.
func (p *Pipeline) Cycle() uint64 {
	return p.cycle
}

// RegFile returns the register file.
func (p *Pipeline) RegFile() *RegFile {
	return p.regFile
}

// Memory returns the backing memory.
func (p *Pipeline) Memory() *emu.Memory {
	return p.memory
}

// Cache returns the data cache.
func (p *Pipeline) Cache() *cache.Cache {
	return p.cache
}

// CacheStats returns data cache statistics.
func (p *Pipeline) CacheStats() cache.Statistics {
	return p.cache.Stats()
}

// LatencyTable returns the latency table used for instruction timing.
func (p *Pipeline) LatencyTable() *latency.Table {
	return p.latencyTable
}

// MaxCycles returns the cycle budget of Run.
func (p *Pipeline) MaxCycles() uint64 {
	return p.maxCycles
}

// PoolSizes returns the number of units per pool.
func (p *Pipeline) PoolSizes() PoolSizes {
	return p.poolSizes
}

// LoadBuffers returns the load buffer pool.
func (p *Pipeline) LoadBuffers() *LoadBufferPool {
	return p.loadBuffers
}

// StoreBuffers returns the store buffer pool.
func (p *Pipeline) StoreBuffers() *StoreBufferPool {
	return p.storeBuffers
}

// AddSubStations returns the add/sub reservation stations.
func (p *Pipeline) AddSubStations() *StationPool {
	return p.addSub
}

// MulDivStations returns the mul/div reservation stations.
func (p *Pipeline) MulDivStations() *StationPool {
	return p.mulDiv
}

// TagName returns the display name of the unit a tag belongs to, or an
// empty string for NoTag.
func (p *Pipeline) TagName(tag Tag) string {
	if int(tag) >= len(p.tagNames) {
		return fmt.Sprintf("tag%d", tag)
	}
	return p.tagNames[tag]
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Statistics {
	return p.stats
}

// Diagnostics returns the non-fatal conditions recorded so far.
func (p *Pipeline) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(p.diagnostics))
	copy(out, p.diagnostics)
	return out
}

// Done returns true once the queue is empty and every unit is free.
func (p *Pipeline) Done() bool {
	return len(p.queue) == 0 &&
		p.loadBuffers.Busy() == 0 &&
		p.storeBuffers.Busy() == 0 &&
		p.addSub.Busy() == 0 &&
		p.mulDiv.Busy() == 0
}

// currentCycle numbers the cycle being simulated, starting at 1.
func (p *Pipeline) currentCycle() uint64 {
	return p.cycle + 1
}

func (p *Pipeline) diagnose(unit string, err error) {
	d := Diagnostic{Cycle: p.currentCycle(), Unit: unit, Err: err}
	p.diagnostics = append(p.diagnostics, d)
	p.logger.Warn("diagnostic",
		"cycle", d.Cycle,
		"unit", unit,
		"err", err)
}

// IssueNext tries to dispatch the queue head.
//
// On success the head is popped. When no unit of the right class is free
// the error wraps ErrNoFreeUnit and the head stays. An unknown register
// name also leaves the head in place and returns ErrUnknownRegister. An
// instruction that can never issue, because its address is outside memory
// or its opcode has no class, is dropped with a diagnostic and the error is
// returned.
func (p *Pipeline) IssueNext() error {
	if len(p.queue) == 0 {
		return ErrQueueEmpty
	}

	inst := p.queue[0]

	var (
		unit string
		tag  Tag
		err  error
	)

	err = p.hazardUnit.CheckRegisters(inst)
	if err == nil {
		switch inst.Op.Class() {
		case insts.ClassLoad:
			unit, tag, err = p.issueLoad(inst)
		case insts.ClassStore:
			unit, tag, err = p.issueStore(inst)
		case insts.ClassAddSub:
			unit, tag, err = p.issueArith(inst, p.addSub)
		case insts.ClassMulDiv:
			unit, tag, err = p.issueArith(inst, p.mulDiv)
		default:
			err = fmt.Errorf("%v: %w", inst, emu.ErrUnknownOpcode)
		}
	}

	switch {
	case err == nil:
		p.queue = p.queue[1:]
		p.stats.Issued++
		p.logger.Debug("issue",
			"cycle", p.currentCycle(),
			"inst", inst.String(),
			"unit", unit)
		p.InvokeHook(sim.HookCtx{
			Domain: p,
			Pos:    HookPosIssue,
			Item: IssueEvent{
				Cycle: p.currentCycle(),
				Inst:  inst,
				Text:  inst.String(),
				Unit:  unit,
				Tag:   tag,
			},
		})
	case errors.Is(err, ErrNoFreeUnit):
		p.stats.StructuralStalls++
		p.logger.Debug("structural stall",
			"cycle", p.currentCycle(),
			"inst", inst.String(),
			"class", inst.Op.Class().String())
	case errors.Is(err, ErrUnknownRegister):
		p.stats.RegisterStalls++
		p.logger.Warn("register stall",
			"cycle", p.currentCycle(),
			"err", err)
	default:
		p.queue = p.queue[1:]
		p.diagnose("", fmt.Errorf("dropped %v: %w", inst, err))
	}

	return err
}

func (p *Pipeline) address(inst *insts.Instruction) (int, error) {
	if inst.Src1.Kind != insts.OperandAddress || !p.memory.Valid(inst.Src1.Addr) {
		return 0, fmt.Errorf("%v: %w: %v", inst, emu.ErrInvalidAddress, inst.Src1)
	}
	return inst.Src1.Addr, nil
}

func (p *Pipeline) issueLoad(inst *insts.Instruction) (string, Tag, error) {
	addr, err := p.address(inst)
	if err != nil {
		return "", NoTag, err
	}

	lb, err := p.loadBuffers.Allocate(addr)
	if err != nil {
		return "", NoTag, err
	}

	if err := p.hazardUnit.Rename(inst, lb.Tag); err != nil {
		p.loadBuffers.Free(lb)
		return "", NoTag, err
	}

	return lb.Name, lb.Tag, nil
}

func (p *Pipeline) issueStore(inst *insts.Instruction) (string, Tag, error) {
	addr, err := p.address(inst)
	if err != nil {
		return "", NoTag, err
	}

	value, err := p.hazardUnit.Bind(inst.Dest)
	if err != nil {
		return "", NoTag, err
	}

	sb, err := p.storeBuffers.Allocate(addr, value)
	if err != nil {
		return "", NoTag, err
	}

	return sb.Name, sb.Tag, nil
}

func (p *Pipeline) issueArith(
	inst *insts.Instruction,
	pool *StationPool,
) (string, Tag, error) {
	j, err := p.hazardUnit.Bind(inst.Src1)
	if err != nil {
		return "", NoTag, err
	}
	k, err := p.hazardUnit.Bind(inst.Src2)
	if err != nil {
		return "", NoTag, err
	}

	rs, err := pool.Allocate(inst.Op, j, k)
	if err != nil {
		return "", NoTag, err
	}

	if err := p.hazardUnit.Rename(inst, rs.Tag); err != nil {
		pool.Free(rs)
		return "", NoTag, err
	}

	return rs.Name, rs.Tag, nil
}

// Advance moves every busy unit one cycle forward, pool by pool: load
// buffers, add/sub stations, mul/div stations, then store buffers.
func (p *Pipeline) Advance() {
	p.loadBuffers.Advance(p.cache, p.memory, p.latencyTable)
	p.addSub.Advance(p.latencyTable, p.alu)
	p.mulDiv.Advance(p.latencyTable, p.alu)
	p.storeBuffers.Advance(p.cache, p.memory)
}

// WriteBack frees every completed unit. Loads and stations broadcast their
// result first; stores are freed silently.
func (p *Pipeline) WriteBack() {
	for _, lb := range p.loadBuffers.Completed() {
		p.complete(lb.Name, lb.Tag, lb.Value, lb.Faulted, lb.Err)
		p.loadBuffers.Free(lb)
	}

	for _, sb := range p.storeBuffers.Completed() {
		if sb.Err != nil {
			p.stats.Faults++
			p.diagnose(sb.Name, sb.Err)
		}
		p.stats.Completed++
		p.storeBuffers.Free(sb)
	}

	for _, pool := range []*StationPool{p.addSub, p.mulDiv} {
		for _, rs := range pool.Completed() {
			p.complete(rs.Name, rs.Tag, rs.Result, rs.Faulted, rs.Err)
			pool.Free(rs)
		}
	}
}

func (p *Pipeline) complete(unit string, tag Tag, v float64, faulted bool, err error) {
	if err != nil {
		p.diagnose(unit, err)
	}
	if faulted {
		p.stats.Faults++
	}

	msg := p.bus.Send(unit, tag, v, faulted)
	msg.Cycle = p.currentCycle()

	p.stats.Completed++
	p.stats.Broadcasts++

	p.logger.Debug("broadcast",
		"cycle", msg.Cycle,
		"unit", unit,
		"value", msg.Value,
		"poisoned", msg.Poisoned,
		"registers", msg.Registers,
		"operands", msg.Operands)

	p.InvokeHook(sim.HookCtx{
		Domain: p,
		Pos:    HookPosBroadcast,
		Item:   msg,
	})
}

// Tick executes one cycle: issue if the queue is not empty, advance, then
// write back.
func (p *Pipeline) Tick() {
	if len(p.queue) > 0 {
		_ = p.IssueNext()
	}

	p.Advance()
	p.WriteBack()

	p.cycle++
	p.stats.Cycles = p.cycle

	if p.NumHooks() > 0 {
		p.InvokeHook(sim.HookCtx{
			Domain: p,
			Pos:    HookPosCycleEnd,
			Item:   p.Snapshot(),
		})
	}
}

// Run ticks until every instruction has completed. It returns an error
// wrapping ErrCycleLimit if the pipeline is still busy after the configured
// number of cycles.
func (p *Pipeline) Run() error {
	for !p.Done() {
		if p.cycle >= p.maxCycles {
			return fmt.Errorf("%w: %d cycles, %d instructions queued",
				ErrCycleLimit, p.cycle, len(p.queue))
		}
		p.Tick()
	}
	return nil
}

// RunCycles executes the pipeline for the specified number of cycles.
// Returns true if still running, false if done.
func (p *Pipeline) RunCycles(cycles uint64) bool {
	for i := uint64(0); i < cycles && !p.Done(); i++ {
		p.Tick()
	}
	return !p.Done()
}

// Reset empties the queue, frees every unit, invalidates the cache and
// clears the cycle count, statistics and diagnostics. Registers lose their
// pending tags but keep their values; memory is untouched.
func (p *Pipeline) Reset() {
	p.queue = nil
	p.regFile.ClearTags()
	p.loadBuffers.Reset()
	p.storeBuffers.Reset()
	p.addSub.Reset()
	p.mulDiv.Reset()
	p.cache.Reset()
	p.cycle = 0
	p.stats = Statistics{}
	p.diagnostics = nil
}
