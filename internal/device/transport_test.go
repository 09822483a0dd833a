package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitService(t *testing.T) {
	domain, name, err := SplitService("media_player/volume_set")
	require.NoError(t, err)
	assert.Equal(t, "media_player", domain)
	assert.Equal(t, "volume_set", name)

	for _, bad := range []string{"", "media_player", "/volume_set", "media_player/"} {
		_, _, err := SplitService(bad)
		assert.Error(t, err, bad)
	}
}

func TestUnavailable(t *testing.T) {
	err := Unavailable("media_player.kitchen", "volume_level")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "volume_level")

	err = Unavailable("media_player.kitchen", "")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestDecode(t *testing.T) {
	var f float64
	require.NoError(t, Decode(0.35, &f))
	assert.InDelta(t, 0.35, f, 1e-9)

	require.NoError(t, Decode("0.5", &f))
	assert.InDelta(t, 0.5, f, 1e-9)

	var attrs struct {
		Source     *string  `mapstructure:"source"`
		SourceList []string `mapstructure:"source_list"`
	}
	require.NoError(t, Decode(map[string]any{
		"source":      "Radio",
		"source_list": []any{"TV", "Radio"},
		"friendly":    "ignored",
	}, &attrs))
	require.NotNil(t, attrs.Source)
	assert.Equal(t, "Radio", *attrs.Source)
	assert.Equal(t, []string{"TV", "Radio"}, attrs.SourceList)

	assert.Error(t, Decode(map[string]any{"a": 1}, &f))
}
