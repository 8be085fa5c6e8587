package audit

import (
	"sync"
	"time"
)

// incompleteEventTimeout bounds how long a partial accumulator may wait for
// its remaining records before being evaluated with what it has.
const incompleteEventTimeout = 100 * time.Millisecond

// Assembler groups raw audit records by serial number and hands completed
// events to the evaluate callback. Each accumulator is evaluated at most
// once, whether completion came from an end-of-event record or from the
// timeout sweep.
type Assembler struct {
	mu       sync.Mutex
	pending  map[uint64]*Accumulator
	now      func() time.Time
	evaluate func(*Accumulator)
}

// NewAssembler creates an assembler that calls evaluate for each assembled
// event.
func NewAssembler(evaluate func(*Accumulator)) *Assembler {
	return &Assembler{
		pending:  make(map[uint64]*Accumulator),
		now:      time.Now,
		evaluate: evaluate,
	}
}

// Push feeds one raw audit record. The serial is parsed from the message
// prefix; records without a valid serial are dropped.
func (as *Assembler) Push(recordType uint16, msg string) {
	serial := ParseSerial(msg)
	if serial == 0 {
		return
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	acc, ok := as.pending[serial]
	if !ok {
		acc = &Accumulator{
			Serial:    serial,
			Received:  as.now(),
			RawFields: make(map[string]string),
		}
		as.pending[serial] = acc
	}

	switch recordType {
	case TypeSyscall:
		acc.Syscall = ParseSyscallRecord(ParseFields(msg))
	case TypeExecve:
		if r := ParseExecveRecord(ParseFields(msg)); r != nil {
			acc.Execve = r
		}
	case TypeCwd:
		acc.CWD = ParseFields(msg)["cwd"]
	case TypePath:
		if r := ParsePathRecord(ParseFields(msg)); r != nil {
			acc.Paths = append(acc.Paths, *r)
		}
	case TypeEOE:
		// An incomplete event stays pending; the sweep gives its missing
		// records a grace period before evaluating what arrived.
		if acc.Complete() && !acc.evaluated {
			acc.evaluated = true
			as.evaluate(acc)
			delete(as.pending, serial)
		}
	default:
		// Keep unknown record fields available to rules.
		for k, v := range ParseFields(msg) {
			acc.RawFields[k] = v
		}
	}
}

// Sweep evaluates and drops accumulators older than the timeout. Partial
// events with a syscall record are still worth evaluating; the rest are
// discarded.
func (as *Assembler) Sweep() {
	cutoff := as.now().Add(-incompleteEventTimeout)

	as.mu.Lock()
	defer as.mu.Unlock()

	for serial, acc := range as.pending {
		if acc.Received.After(cutoff) {
			continue
		}
		if acc.Syscall != nil && !acc.evaluated {
			acc.evaluated = true
			as.evaluate(acc)
		}
		delete(as.pending, serial)
	}
}

// PendingCount returns how many partial events are buffered.
func (as *Assembler) PendingCount() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.pending)
}
