// Package audit reassembles multi-record kernel audit events from the
// netlink socket, matches them against rule sets, and emits typed events.
package audit

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Kernel audit record types (linux/audit.h).
const (
	TypeSyscall  = 1300
	TypePath     = 1302
	TypeSockaddr = 1306
	TypeCwd      = 1307
	TypeExecve   = 1309
	TypeEOE      = 1320
)

// SyscallRecord carries the process and syscall identity of one audit event.
type SyscallRecord struct {
	PID      int32
	PPID     int32
	UID      uint32
	EUID     uint32
	GID      uint32
	EGID     uint32
	Comm     string
	Exe      string
	Syscall  uint32
	Success  string
	ExitCode int32
}

// ExecveRecord carries the argument vector of an execve call.
type ExecveRecord struct {
	Argv []string
}

// PathRecord names one file the syscall touched.
type PathRecord struct {
	Name     string
	Nametype string // "NORMAL", "CREATE", "DELETE", ...
}

// Accumulator collects the records sharing one audit serial until the event
// is complete or times out.
type Accumulator struct {
	Serial    uint64
	Received  time.Time
	Syscall   *SyscallRecord
	Execve    *ExecveRecord
	CWD       string
	Paths     []PathRecord
	RawFields map[string]string

	evaluated bool
}

// Complete reports whether the accumulator can be evaluated: a syscall
// record plus either an argv or at least one path.
func (a *Accumulator) Complete() bool {
	return a.Syscall != nil && (a.Execve != nil || len(a.Paths) > 0)
}

// CommandLine joins argv into one string, quoting arguments with spaces.
func (a *Accumulator) CommandLine() string {
	if a.Execve == nil {
		return ""
	}
	var b strings.Builder
	for i, arg := range a.Execve.Argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		if strings.ContainsRune(arg, ' ') {
			b.WriteByte('"')
			b.WriteString(arg)
			b.WriteByte('"')
		} else {
			b.WriteString(arg)
		}
	}
	return b.String()
}

// ParseSerial extracts the event serial from the "audit(ts:serial):" prefix
// of a raw record. Zero means the prefix was malformed.
func ParseSerial(msg string) uint64 {
	start := strings.IndexByte(msg, ':')
	if start < 0 {
		return 0
	}
	end := strings.IndexByte(msg[start:], ')')
	if end < 0 {
		return 0
	}
	serial, err := strconv.ParseUint(msg[start+1:start+end], 10, 64)
	if err != nil {
		return 0
	}
	return serial
}

// ParseFields splits a raw audit record into its key=value pairs. Quoted
// values lose their quotes; unquoted hex blobs (the kernel's encoding for
// values with unsafe characters) are decoded.
func ParseFields(msg string) map[string]string {
	fields := make(map[string]string)

	// Skip the "audit(...):" prefix when present.
	if idx := strings.Index(msg, "): "); idx >= 0 {
		msg = msg[idx+3:]
	}

	for _, token := range strings.Fields(msg) {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			continue
		}
		fields[key] = decodeValue(value)
	}
	return fields
}

func decodeValue(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	if decoded, ok := tryHexDecode(v); ok {
		return decoded
	}
	return v
}

// tryHexDecode decodes kernel hex-escaped values: even-length, upper-case
// hex, and at least four characters (so plain numbers stay numbers).
func tryHexDecode(v string) (string, bool) {
	if len(v) < 4 || len(v)%2 != 0 {
		return "", false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", false
		}
	}
	// All-digit strings are ambiguous; treat them as literals.
	if strings.IndexFunc(v, func(r rune) bool { return r >= 'A' && r <= 'F' }) < 0 {
		return "", false
	}
	raw, err := hex.DecodeString(v)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// ParseSyscallRecord builds a SyscallRecord from parsed fields.
func ParseSyscallRecord(fields map[string]string) *SyscallRecord {
	r := &SyscallRecord{Success: "yes"}
	r.PID = int32(fieldInt(fields, "pid"))
	r.PPID = int32(fieldInt(fields, "ppid"))
	r.UID = uint32(fieldInt(fields, "uid"))
	r.EUID = uint32(fieldInt(fields, "euid"))
	r.GID = uint32(fieldInt(fields, "gid"))
	r.EGID = uint32(fieldInt(fields, "egid"))
	r.Comm = fields["comm"]
	r.Exe = fields["exe"]
	r.Syscall = uint32(fieldInt(fields, "syscall"))
	if s, ok := fields["success"]; ok {
		r.Success = s
	}
	r.ExitCode = int32(fieldInt(fields, "exit"))
	return r
}

// ParseExecveRecord builds an ExecveRecord from the argc/aN fields. Nil is
// returned when argc is missing or zero.
func ParseExecveRecord(fields map[string]string) *ExecveRecord {
	argc := fieldInt(fields, "argc")
	if argc <= 0 {
		return nil
	}
	r := &ExecveRecord{Argv: make([]string, 0, argc)}
	for i := int64(0); i < argc; i++ {
		if arg, ok := fields["a"+strconv.FormatInt(i, 10)]; ok {
			r.Argv = append(r.Argv, arg)
		}
	}
	return r
}

// ParsePathRecord builds a PathRecord; nil when the name field is missing.
func ParsePathRecord(fields map[string]string) *PathRecord {
	name, ok := fields["name"]
	if !ok {
		return nil
	}
	return &PathRecord{Name: name, Nametype: fields["nametype"]}
}

func fieldInt(fields map[string]string, key string) int64 {
	v, err := strconv.ParseInt(fields[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
