package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDocument(t *testing.T) {
	line, err := formatDocument([]byte(`{"target":{"lat":51.5,"lon":-0.125},"updated_at":"2026-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "[TARGET] lat=51.500000 lon=-0.125000 updated=2026-03-01T12:00:00Z", line)

	_, err = formatDocument([]byte("not json"))
	assert.Error(t, err)
}

func TestFormatFix(t *testing.T) {
	line, err := formatFix([]byte(`{"time":"22:05:16","date":"13/06/94","lat":51.5,"lon":-0.7,"speed_knots":173.8,"course_deg":231.8,"validity":"A","satellites":9}`))
	require.NoError(t, err)
	assert.Contains(t, line, "lat=51.500000")
	assert.Contains(t, line, "validity=A")
	assert.Contains(t, line, "sats=9")

	_, err = formatFix([]byte("{"))
	assert.Error(t, err)
}
