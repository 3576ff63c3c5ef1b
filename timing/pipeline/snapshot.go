package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/sarchlab/tomasim/timing/cache"
)

// RegisterState is a register as seen in a snapshot. Tag holds the display
// name of the pending producer, or is empty when the register is ready.
type RegisterState struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Tag   string  `json:"tag,omitempty"`
}

// StationState is a reservation station as seen in a snapshot.
type StationState struct {
	Name      string  `json:"name"`
	Busy      bool    `json:"busy"`
	Op        string  `json:"op,omitempty"`
	Vj        float64 `json:"vj"`
	Vk        float64 `json:"vk"`
	Qj        string  `json:"qj,omitempty"`
	Qk        string  `json:"qk,omitempty"`
	Executing bool    `json:"executing"`
	Remaining uint64  `json:"remaining"`
	Done      bool    `json:"done"`
	Result    float64 `json:"result"`
}

// LoadState is a load buffer as seen in a snapshot.
type LoadState struct {
	Name      string  `json:"name"`
	Busy      bool    `json:"busy"`
	Addr      int     `json:"addr"`
	Executing bool    `json:"executing"`
	Remaining uint64  `json:"remaining"`
	Done      bool    `json:"done"`
	Value     float64 `json:"value"`
}

// StoreState is a store buffer as seen in a snapshot.
type StoreState struct {
	Name  string  `json:"name"`
	Busy  bool    `json:"busy"`
	Addr  int     `json:"addr"`
	Value float64 `json:"value"`
	Q     string  `json:"q,omitempty"`
	Done  bool    `json:"done"`
}

// CacheState summarizes the data cache in a snapshot.
type CacheState struct {
	Size      int              `json:"size"`
	BlockSize int              `json:"block_size"`
	Policy    cache.Policy     `json:"policy"`
	Resident  []int            `json:"resident"`
	Stats     cache.Statistics `json:"stats"`
}

// Snapshot is a read-only copy of the engine state after a cycle. It shares
// nothing with the engine.
type Snapshot struct {
	Cycle     uint64          `json:"cycle"`
	Done      bool            `json:"done"`
	Queue     []string        `json:"queue"`
	Registers []RegisterState `json:"registers"`
	AddSub    []StationState  `json:"add_sub"`
	MulDiv    []StationState  `json:"mul_div"`
	Loads     []LoadState     `json:"loads"`
	Stores    []StoreState    `json:"stores"`
	Cache     CacheState      `json:"cache"`
	Stats     Statistics      `json:"stats"`
}

// Snapshot captures the current engine state.
func (p *Pipeline) Snapshot() Snapshot {
	s := Snapshot{
		Cycle: p.cycle,
		Done:  p.Done(),
		Queue: make([]string, 0, len(p.queue)),
		Cache: CacheState{
			Size:      p.cache.Config().Size,
			BlockSize: p.cache.Config().BlockSize,
			Policy:    p.cache.Config().Policy,
			Resident:  p.cache.ResidentBlocks(),
			Stats:     p.cache.Stats(),
		},
		Stats: p.stats,
	}

	for _, inst := range p.queue {
		s.Queue = append(s.Queue, inst.String())
	}

	for _, reg := range p.regFile.Registers() {
		s.Registers = append(s.Registers, RegisterState{
			Name:  reg.Name,
			Value: reg.Value,
			Tag:   p.TagName(reg.Tag),
		})
	}

	s.AddSub = p.stationStates(p.addSub)
	s.MulDiv = p.stationStates(p.mulDiv)

	for _, lb := range p.loadBuffers.Buffers() {
		s.Loads = append(s.Loads, LoadState{
			Name:      lb.Name,
			Busy:      lb.Busy,
			Addr:      lb.Addr,
			Executing: lb.Executing,
			Remaining: lb.Remaining,
			Done:      lb.Done,
			Value:     lb.Value,
		})
	}

	for _, sb := range p.storeBuffers.Buffers() {
		s.Stores = append(s.Stores, StoreState{
			Name:  sb.Name,
			Busy:  sb.Busy,
			Addr:  sb.Addr,
			Value: sb.Value,
			Q:     p.TagName(sb.Q),
			Done:  sb.Done,
		})
	}

	return s
}

func (p *Pipeline) stationStates(pool *StationPool) []StationState {
	states := make([]StationState, 0, pool.Size())
	for _, rs := range pool.Stations() {
		st := StationState{
			Name:      rs.Name,
			Busy:      rs.Busy,
			Vj:        rs.Vj,
			Vk:        rs.Vk,
			Qj:        p.TagName(rs.Qj),
			Qk:        p.TagName(rs.Qk),
			Executing: rs.Executing,
			Remaining: rs.Remaining,
			Done:      rs.Done,
			Result:    rs.Result,
		}
		if rs.Busy {
			st.Op = rs.Op.String()
		}
		states = append(states, st)
	}
	return states
}

// Register returns the state of a register by name.
func (s Snapshot) Register(name string) (RegisterState, bool) {
	for _, r := range s.Registers {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return RegisterState{}, false
}

func readyOr(tag string) string {
	if tag == "" {
		return "(ready)"
	}
	return tag
}

// WriteReport prints the snapshot as a human-readable status report.
func (s Snapshot) WriteReport(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Cycle %d\n\n", s.Cycle)

	b.WriteString("Instruction Queue:\n")
	if len(s.Queue) == 0 {
		b.WriteString("  (empty)\n")
	}
	for _, inst := range s.Queue {
		fmt.Fprintf(&b, "  %s\n", inst)
	}

	b.WriteString("\nRegisters:\n")
	for _, r := range s.Registers {
		fmt.Fprintf(&b, "  %-4s %10.2f  Qi=%s\n", r.Name, r.Value, readyOr(r.Tag))
	}

	writeStations(&b, "Add/Sub Reservation Stations", s.AddSub)
	writeStations(&b, "Mul/Div Reservation Stations", s.MulDiv)

	b.WriteString("\nLoad Buffers:\n")
	busy := false
	for _, lb := range s.Loads {
		if !lb.Busy {
			continue
		}
		busy = true
		fmt.Fprintf(&b, "  %s: Address=%d%s\n", lb.Name, lb.Addr, flag(lb.Executing, lb.Done))
	}
	if !busy {
		b.WriteString("  (none busy)\n")
	}

	b.WriteString("\nStore Buffers:\n")
	busy = false
	for _, sb := range s.Stores {
		if !sb.Busy {
			continue
		}
		busy = true
		fmt.Fprintf(&b, "  %s: Address=%d, V=%.2f, Q=%s%s\n",
			sb.Name, sb.Addr, sb.Value, readyOr(sb.Q), flag(false, sb.Done))
	}
	if !busy {
		b.WriteString("  (none busy)\n")
	}

	fmt.Fprintf(&b, "\nCache: %d cells, %d-cell blocks, %s, resident %v\n",
		s.Cache.Size, s.Cache.BlockSize, s.Cache.Policy, s.Cache.Resident)
	fmt.Fprintf(&b, "  Hits: %d, Misses: %d\n", s.Cache.Stats.Hits, s.Cache.Stats.Misses)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeStations(b *strings.Builder, title string, stations []StationState) {
	fmt.Fprintf(b, "\n%s:\n", title)
	busy := false
	for _, rs := range stations {
		if !rs.Busy {
			continue
		}
		busy = true
		fmt.Fprintf(b, "  %s: Op=%s, Vj=%.2f, Vk=%.2f, Qj=%s, Qk=%s%s\n",
			rs.Name, rs.Op, rs.Vj, rs.Vk, readyOr(rs.Qj), readyOr(rs.Qk),
			flag(rs.Executing, rs.Done))
	}
	if !busy {
		b.WriteString("  (none busy)\n")
	}
}

func flag(executing, done bool) string {
	switch {
	case done:
		return " [Done]"
	case executing:
		return " [Executing]"
	default:
		return ""
	}
}
