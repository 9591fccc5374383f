package debugger

import "fmt"

// breakpointCapacity is the fixed size of the breakpoint array named in
// spec.md §4.3; config.DebuggerConfig.BreakpointCapacity is expected to
// match it but this package does not depend on config.
const breakpointCapacity = 64

// breakpointSet is the fixed-capacity, order-preserving array of one-based
// line numbers from spec.md's debugger state. Duplicates collapse; removal
// from the middle shifts the tail left by one element — not one byte, the
// "open question" spec.md §9 calls out about a one-byte subtractive
// adjustment in the source this was ported from.
type breakpointSet struct {
	lines []int
}

func newBreakpointSet() *breakpointSet {
	return &breakpointSet{lines: make([]int, 0, breakpointCapacity)}
}

// Add appends line if not already present. Returns false (with a diagnostic)
// when the set is already at capacity.
func (b *breakpointSet) Add(line int) (bool, error) {
	for _, l := range b.lines {
		if l == line {
			return true, nil
		}
	}
	if len(b.lines) >= breakpointCapacity {
		return false, fmt.Errorf("breakpoint capacity (%d) reached", breakpointCapacity)
	}
	b.lines = append(b.lines, line)
	return true, nil
}

// Remove drops line from the set. Removing a line not present is a no-op
// that reports false so callers can tell the client nothing happened.
func (b *breakpointSet) Remove(line int) bool {
	for i, l := range b.lines {
		if l != line {
			continue
		}
		// Shift the tail left by one element (not one byte): everything
		// after index i moves down by one slot.
		copy(b.lines[i:], b.lines[i+1:])
		b.lines = b.lines[:len(b.lines)-1]
		return true
	}
	return false
}

// Clear empties the set (the "[b]reak 0" command).
func (b *breakpointSet) Clear() { b.lines = b.lines[:0] }

// Has reports whether line is a current breakpoint.
func (b *breakpointSet) Has(line int) bool {
	for _, l := range b.lines {
		if l == line {
			return true
		}
	}
	return false
}

// List returns a snapshot of the current breakpoints in insertion order.
func (b *breakpointSet) List() []int {
	out := make([]int, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len reports the current number of stored breakpoints.
func (b *breakpointSet) Len() int { return len(b.lines) }
