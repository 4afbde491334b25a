package connectivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransport(t *testing.T) {
	for in, want := range map[string]Transport{
		"none":       TransportNone,
		"METERED":    TransportMetered,
		" Unmetered": TransportUnmetered,
	} {
		got, err := ParseTransport(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseTransport("satellite")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "offline", Offline().String())
	assert.Equal(t, "online/metered", Online(TransportMetered).String())
	assert.NotEqual(t, Online(TransportMetered), Online(TransportUnmetered))
}
