package compiler

import (
	"sync/atomic"

	"github.com/roach88/pmc/internal/ir"
)

// Sequence hands out record sequence numbers.
//
// Sequence numbers order the records of a unit the way the host program
// executes them: a collection must be produced by a record with a smaller
// seq than any record that consumes it. The front end normally supplies
// them; Sequence fills the gaps.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequenceAt creates a sequence whose next value is start+1.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}

// AssignSequence gives every record with seq 0 a number after the highest
// explicit seq, in document order: input binds, operations, output binds,
// then method calls.
func AssignSequence(u *ir.TranslationUnit) {
	var highest int64
	observe := func(seq int64) {
		if seq > highest {
			highest = seq
		}
	}
	for _, in := range u.InputBinds {
		observe(in.Seq)
	}
	for _, op := range u.Operations {
		observe(op.Seq)
	}
	for _, out := range u.OutputBinds {
		observe(out.Seq)
	}
	for _, c := range u.MethodCalls {
		observe(c.Seq)
	}

	seq := NewSequenceAt(highest)
	for i := range u.InputBinds {
		if u.InputBinds[i].Seq == 0 {
			u.InputBinds[i].Seq = seq.Next()
		}
	}
	for i := range u.Operations {
		if u.Operations[i].Seq == 0 {
			u.Operations[i].Seq = seq.Next()
		}
	}
	for i := range u.OutputBinds {
		if u.OutputBinds[i].Seq == 0 {
			u.OutputBinds[i].Seq = seq.Next()
		}
	}
	for i := range u.MethodCalls {
		if u.MethodCalls[i].Seq == 0 {
			u.MethodCalls[i].Seq = seq.Next()
		}
	}
}
