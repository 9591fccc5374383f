package debugger

const truncationHint = "Use `maxlen 0` to disable trimming"

// truncator caps log lines at a configurable maxlen, emitting the hint line
// exactly once per session the first time a line is actually trimmed
// (spec.md §4.3's truncation rule, testable property 9).
type truncator struct {
	maxlen   int
	hintSent bool
}

func newTruncator(defaultMaxLen int) *truncator {
	return &truncator{maxlen: defaultMaxLen}
}

// SetMaxLen applies the [m]axlen command's clamping rule: 1..59 clamp up to
// 60, 0 disables truncation, negative values are rejected by the caller
// before reaching here.
func (t *truncator) SetMaxLen(n int) {
	if n == 0 {
		t.maxlen = 0
		return
	}
	if n < 60 {
		n = 60
	}
	t.maxlen = n
}

func (t *truncator) MaxLen() int { return t.maxlen }

// truncationSuffix is the 4-byte ellipsis marker appended to a trimmed line,
// so a trimmed line is emitted at exactly maxlen+4 bytes.
const truncationSuffix = " ..."

// Apply truncates line to the current maxlen, appending the ellipsis
// suffix, and returns the (possibly truncated) line plus the hint line the
// first time truncation actually occurs (empty string on every later call).
func (t *truncator) Apply(line string) (out string, hint string) {
	if t.maxlen <= 0 || len(line) <= t.maxlen {
		return line, ""
	}
	truncated := line[:t.maxlen] + truncationSuffix
	if !t.hintSent {
		t.hintSent = true
		return truncated, truncationHint
	}
	return truncated, ""
}
