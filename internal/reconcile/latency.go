package reconcile

// latencyWindow is how many round-trip samples feed the rolling estimate.
const latencyWindow = 8

// LatencyEstimator keeps a rolling estimate of one-way message delay from
// round-trip probe measurements. Half the mean round trip approximates
// the one-way delay; clock skew between client and server folds into the
// same correction.
type LatencyEstimator struct {
	samples []int64
	next    int
	count   int
}

func NewLatencyEstimator() *LatencyEstimator {
	return &LatencyEstimator{
		samples: make([]int64, latencyWindow),
	}
}

func (le *LatencyEstimator) AddSample(rttMs int64) {
	if rttMs < 0 {
		return
	}

	le.samples[le.next] = rttMs
	le.next = (le.next + 1) % len(le.samples)
	if le.count < len(le.samples) {
		le.count++
	}
}

// OneWayMs returns the current one-way delay estimate, or 0 before any
// sample has arrived.
func (le *LatencyEstimator) OneWayMs() int64 {
	if le.count == 0 {
		return 0
	}

	var sum int64
	for i := 0; i < le.count; i++ {
		sum += le.samples[i]
	}

	return sum / int64(le.count) / 2
}

func (le *LatencyEstimator) SampleCount() int {
	return le.count
}

// Reset drops all samples; called when a new connection is established,
// since the old path's delay no longer applies.
func (le *LatencyEstimator) Reset() {
	le.next = 0
	le.count = 0
}
