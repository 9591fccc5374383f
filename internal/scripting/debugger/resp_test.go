package debugger

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, frame string) string {
	t.Helper()
	out, err := PrettyPrintRESP(bufio.NewReader(strings.NewReader(frame)))
	require.NoError(t, err)
	return out
}

func TestPrettyPrintRESPInteger(t *testing.T) {
	assert.Equal(t, "42", render(t, ":42\r\n"))
}

func TestPrettyPrintRESPBulkString(t *testing.T) {
	assert.Equal(t, `"hello"`, render(t, "$5\r\nhello\r\n"))
}

func TestPrettyPrintRESPNullBulk(t *testing.T) {
	assert.Equal(t, "NULL", render(t, "$-1\r\n"))
}

func TestPrettyPrintRESPSimpleAndError(t *testing.T) {
	assert.Equal(t, `"OK"`, render(t, "+OK\r\n"))
	assert.Equal(t, `"ERR bad"`, render(t, "-ERR bad\r\n"))
}

func TestPrettyPrintRESPNullAndBool(t *testing.T) {
	assert.Equal(t, "(null)", render(t, "_\r\n"))
	assert.Equal(t, "#true", render(t, "#t\r\n"))
	assert.Equal(t, "#false", render(t, "#f\r\n"))
}

func TestPrettyPrintRESPDouble(t *testing.T) {
	assert.Equal(t, "(double) 3.14", render(t, ",3.14\r\n"))
}

func TestPrettyPrintRESPArray(t *testing.T) {
	assert.Equal(t, `[1,"two"]`, render(t, "*2\r\n:1\r\n$3\r\ntwo\r\n"))
}

func TestPrettyPrintRESPMap(t *testing.T) {
	out := render(t, "%1\r\n$3\r\nkey\r\n:1\r\n")
	assert.Equal(t, `{"key" => 1}`, out)
}

func TestPrettyPrintRESPSet(t *testing.T) {
	assert.Equal(t, `~(1,2)`, render(t, "~2\r\n:1\r\n:2\r\n"))
}
