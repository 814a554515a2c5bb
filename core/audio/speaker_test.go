package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeFor(t *testing.T) {
	exp, silent := volumeFor(1)
	assert.False(t, silent)
	assert.Zero(t, exp)

	exp, silent = volumeFor(0.25)
	assert.False(t, silent)
	assert.InDelta(t, -2, exp, 1e-9)
	assert.InDelta(t, 0.25, math.Pow(2, exp), 1e-9)

	_, silent = volumeFor(0)
	assert.True(t, silent)

	exp, _ = volumeFor(3)
	assert.Zero(t, exp)
}

func TestDecoderFor(t *testing.T) {
	for _, path := range []string{"a.mp3", "b.WAV", "c.flac", "d.ogg"} {
		dec, err := decoderFor(path)
		require.NoError(t, err, path)
		assert.NotNil(t, dec)
	}
	_, err := decoderFor("e.webm")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
