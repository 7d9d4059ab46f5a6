package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger(t *testing.T) {
	t.Run("Structured Output", func(t *testing.T) {
		require := require.New(t)

		var buf bytes.Buffer
		log := newJSONSlog(InfoLevel, false, &buf)

		log.Info("transport initialized", "bus_speed", 1000000)

		var record map[string]any
		require.NoError(json.Unmarshal(buf.Bytes(), &record))
		require.Equal("transport initialized", record["msg"])
		require.EqualValues(1000000, record["bus_speed"])
	})

	t.Run("Level Filtering", func(t *testing.T) {
		require := require.New(t)

		var buf bytes.Buffer
		log := newJSONSlog(WarnLevel, false, &buf)

		log.Debug("dropped")
		log.Info("dropped")
		require.Zero(buf.Len())

		log.Warn("kept")
		require.NotZero(buf.Len())
	})

	t.Run("SetLevel", func(t *testing.T) {
		require := require.New(t)

		var buf bytes.Buffer
		log := newJSONSlog(InfoLevel, false, &buf)
		require.Equal(InfoLevel, log.Level())

		log.SetLevel(DebugLevel)
		require.Equal(DebugLevel, log.Level())

		log.Debug("now visible")
		require.NotZero(buf.Len())
	})

	t.Run("With", func(t *testing.T) {
		require := require.New(t)

		var buf bytes.Buffer
		log := newJSONSlog(InfoLevel, false, &buf)

		child := log.With("interface", "wpan0")
		child.Info("session accepted")

		var record map[string]any
		require.NoError(json.Unmarshal(buf.Bytes(), &record))
		require.Equal("wpan0", record["interface"])
	})
}
