package evh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsOversizedReadSlabCount(t *testing.T) {
	_, err := New(Config{ReadSlabCount: 1 << 32})
	require.ErrorIs(t, err, ErrConfiguration)

	// The boundary itself is legal; only values >= 2^32 are rejected.
	cfg := Config{ReadSlabCount: (1 << 32) - 1}.withDefaults()
	require.NoError(t, cfg.validate())
}

func TestNewRejectsSlabSmallerThanFourLinkWidths(t *testing.T) {
	_, err := New(Config{SlabPayloadSize: 4, SlabLinkWidth: 4})
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestSlabPoolRejectsLinkWidthBounds(t *testing.T) {
	// slab_size < 4 x link width.
	_, err := NewSlabPool(1, 12, 8)
	require.ErrorIs(t, err, ErrConfiguration)

	// payload larger than the slab itself.
	_, err = NewSlabPool(1, 16, 32)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestConfigDefaultsFillZeroFields(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, defaultThreads, cfg.Threads)
	require.Equal(t, defaultHousekeepingMillis, cfg.HousekeepingFrequencyMillis)
	require.Equal(t, DefaultPayloadSize, cfg.SlabPayloadSize)
	require.Equal(t, DefaultLinkWidth, cfg.SlabLinkWidth)
	require.Equal(t, defaultMaxWriteChunk, cfg.MaxWriteChunk)
	require.NotNil(t, cfg.Logger)
	require.NoError(t, cfg.validate())
}
