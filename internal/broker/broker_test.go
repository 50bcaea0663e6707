package broker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsClientID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fixed", Options{ClientID: "fixed", Role: "agent"}.clientID())

	a := Options{Role: "agent"}.clientID()
	b := Options{Role: "agent"}.clientID()
	assert.True(t, strings.HasPrefix(a, "dyntarget-agent-"))
	assert.NotEqual(t, a, b)

	assert.True(t, strings.HasPrefix(Options{}.clientID(), "dyntarget-client-"))
}
