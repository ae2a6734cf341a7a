package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_latencyEstimator(t *testing.T) {
	t.Run("no samples", func(t *testing.T) {
		le := NewLatencyEstimator()
		assert.Equal(t, int64(0), le.OneWayMs(), "expected zero estimate before any sample")
		assert.Equal(t, 0, le.SampleCount())
	})

	t.Run("one-way is half the mean round trip", func(t *testing.T) {
		le := NewLatencyEstimator()
		le.AddSample(100)
		le.AddSample(200)

		assert.Equal(t, int64(75), le.OneWayMs(), "expected half of the 150ms mean")
		assert.Equal(t, 2, le.SampleCount())
	})

	t.Run("window rolls over", func(t *testing.T) {
		le := NewLatencyEstimator()
		for i := 0; i < latencyWindow; i++ {
			le.AddSample(100)
		}
		assert.Equal(t, int64(50), le.OneWayMs())

		// the next sample displaces the oldest one
		le.AddSample(900)
		assert.Equal(t, latencyWindow, le.SampleCount(), "expected window size bounded")
		assert.Equal(t, int64(100), le.OneWayMs(), "expected mean over the rolled window")
	})

	t.Run("negative samples are dropped", func(t *testing.T) {
		le := NewLatencyEstimator()
		le.AddSample(-5)
		assert.Equal(t, 0, le.SampleCount(), "expected negative round trip ignored")
	})

	t.Run("reset drops the estimate", func(t *testing.T) {
		le := NewLatencyEstimator()
		le.AddSample(100)
		le.Reset()

		assert.Equal(t, 0, le.SampleCount())
		assert.Equal(t, int64(0), le.OneWayMs(), "expected estimate cleared")
	})
}
