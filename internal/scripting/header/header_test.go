package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/scriptlayer/internal/scripting/flags"
)

func TestParseNoHeaderImpliesDefault(t *testing.T) {
	h, err := Parse([]byte("return 1"), "js")
	require.NoError(t, err)
	assert.Equal(t, "js", h.Engine)
	assert.True(t, h.Flags.IsCompat())
	assert.Equal(t, 0, h.BodyOffset)
}

func TestParseHeaderWithFlags(t *testing.T) {
	h, err := Parse([]byte("#!x flags=no-writes,allow-stale\nreturn 1"), "js")
	require.NoError(t, err)
	assert.Equal(t, "x", h.Engine)
	assert.True(t, h.Flags.Has(flags.NoWrites))
	assert.True(t, h.Flags.Has(flags.AllowStale))
}

func TestParseMissingNewlineIsBadHeader(t *testing.T) {
	_, err := Parse([]byte("#!x flags=no-writes"), "js")
	require.Error(t, err)
}

func TestParseUnknownOption(t *testing.T) {
	_, err := Parse([]byte("#!x bogus=1\nreturn 1"), "js")
	require.Error(t, err)
}

func TestParseUnknownFlagName(t *testing.T) {
	_, err := Parse([]byte("#!x flags=nope\nreturn 1"), "js")
	require.Error(t, err)
}

func TestStripRemovesHeaderLine(t *testing.T) {
	body := []byte("#!x flags=no-writes\nreturn 1")
	h, err := Parse(body, "js")
	require.NoError(t, err)
	assert.Equal(t, []byte("return 1"), Strip(body, h))
}

func TestStripNoHeaderReturnsBodyUnchanged(t *testing.T) {
	body := []byte("return 1")
	h, err := Parse(body, "js")
	require.NoError(t, err)
	assert.Equal(t, body, Strip(body, h))
}
