// Package header parses the optional `#!<engine> [flags=...]` directive from
// the first line of a program body (component B).
package header

import (
	"bytes"
	"strings"

	"github.com/R3E-Network/scriptlayer/internal/scripting/flags"
	"github.com/R3E-Network/scriptlayer/pkg/scripterr"
)

// Header describes a parsed (or implied) shebang directive.
type Header struct {
	Engine string
	Flags  flags.Set
	// BodyOffset is the byte offset of the first line of code after the
	// header, or 0 when no header was present.
	BodyOffset int
}

// Parse reads the first line of body looking for `#!engine [flags=f1,f2]\n`.
// A body without a leading "#!" implies the default engine and compat-mode.
// A leading "#!" with no terminating newline, an unrecognized option name,
// or an unrecognized flag name fails with bad-header/unknown-flag errors.
func Parse(body []byte, defaultEngine string) (Header, error) {
	if !strings.HasPrefix(string(body), "#!") {
		return Header{Engine: defaultEngine, Flags: flags.Default}, nil
	}

	nl := bytes.IndexByte(body, '\n')
	if nl < 0 {
		return Header{}, scripterr.BadHeader("missing newline after directive")
	}
	line := string(body[2:nl])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Header{}, scripterr.BadHeader("missing engine name")
	}

	h := Header{Engine: fields[0], BodyOffset: nl + 1}

	for _, opt := range fields[1:] {
		key, val, ok := strings.Cut(opt, "=")
		if !ok {
			return Header{}, scripterr.BadHeader("malformed option '" + opt + "'")
		}
		switch key {
		case "flags":
			set, err := flags.Parse(val)
			if err != nil {
				return Header{}, scripterr.BadHeader(err.Error())
			}
			h.Flags = set
		default:
			return Header{}, scripterr.BadHeader("unknown option '" + key + "'")
		}
	}

	return h, nil
}

// Strip removes the header line (if any) from body, returning just the code
// to hand to the back-end's compile step.
func Strip(body []byte, h Header) []byte {
	if h.BodyOffset == 0 {
		return body
	}
	return body[h.BodyOffset:]
}
