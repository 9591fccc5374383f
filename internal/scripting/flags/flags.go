// Package flags defines the script flag-set bitfield named in spec.md's data
// model and the compat-mode derivation rule that sits between script flags
// and the surrounding store's command flags.
package flags

import "strings"

// Flag is one bit of the enumerated flag domain. Names and exact semantics
// beyond compat-mode are inherited from the host store and are opaque here.
type Flag uint8

const (
	CompatMode Flag = 1 << iota
	NoWrites
	NoCluster
	AllowCrossSlotKeys
	AllowStale
	AllowOOM
)

var names = map[string]Flag{
	"compat-mode":            CompatMode,
	"no-writes":              NoWrites,
	"no-cluster":             NoCluster,
	"allow-cross-slot-keys":  AllowCrossSlotKeys,
	"allow-stale":            AllowStale,
	"allow-oom":              AllowOOM,
}

// Set is an immutable collection of Flag bits.
type Set uint8

// Default is the flag set implied by a program body with no header.
const Default Set = Set(CompatMode)

// Parse turns comma-separated flag names into a Set. An unrecognized name
// returns an error naming it, per the header-parsing contract in spec.md §6.
func Parse(csv string) (Set, error) {
	var s Set
	for _, tok := range strings.Split(csv, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		f, ok := names[strings.ToLower(tok)]
		if !ok {
			return 0, &UnknownFlagError{Name: tok}
		}
		s |= Set(f)
	}
	return s, nil
}

// UnknownFlagError names a flag token that isn't in the enumerated domain.
type UnknownFlagError struct{ Name string }

func (e *UnknownFlagError) Error() string { return "unknown flag '" + e.Name + "'" }

// Has reports whether flag f is set.
func (s Set) Has(f Flag) bool { return Set(f)&s != 0 }

// IsCompat reports whether the compat-mode bit is set.
func (s Set) IsCompat() bool { return s.Has(CompatMode) }

// String renders the set back to its comma-separated textual form, sorted by
// bit position, for display (SCRIPT SHOW, debugger listings).
func (s Set) String() string {
	order := []struct {
		f Flag
		n string
	}{
		{CompatMode, "compat-mode"},
		{NoWrites, "no-writes"},
		{NoCluster, "no-cluster"},
		{AllowCrossSlotKeys, "allow-cross-slot-keys"},
		{AllowStale, "allow-stale"},
		{AllowOOM, "allow-oom"},
	}
	var parts []string
	for _, o := range order {
		if s.Has(o.f) {
			parts = append(parts, o.n)
		}
	}
	return strings.Join(parts, ",")
}

// CommandFlags is the opaque, system-supplied target type that script flags
// translate into; its contents are defined entirely by the surrounding data
// store and are not interpreted here.
type CommandFlags map[string]bool

// Mapper translates a script's flag set into command flags. The core only
// ever calls it with compat-mode absent: when compat-mode is set, the
// request's base command flags are used verbatim instead (spec.md §4.1).
type Mapper interface {
	Map(s Set) CommandFlags
}

// DeriveCommandFlags implements the "Derivation of command flags from script
// flags" rule: under compat-mode the caller's base flags pass through
// unchanged; otherwise the script's flags are translated via mapper.
func DeriveCommandFlags(s Set, base CommandFlags, mapper Mapper) CommandFlags {
	if s.IsCompat() {
		return base
	}
	if mapper == nil {
		return CommandFlags{}
	}
	return mapper.Map(s)
}
