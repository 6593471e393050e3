// Package optimizer implements the Adaptive Chunk Optimizer (§4.D): a
// per-transfer, single-threaded tracker of chunk throughput that adjusts
// the next chunk size within [64, 4096] bytes based on an exponential
// moving average.
package optimizer

const (
	MinChunkSize = 64
	MaxChunkSize = 4096

	emaAlpha          = 0.3
	minSamplesForTune = 5
)

// Optimizer tracks one file transfer's chunk-size history. It is not safe
// for concurrent use: callers never concurrently Record and NextSize, the
// same single-writer discipline the protocol engine itself relies on.
type Optimizer struct {
	initialSize int
	currentSize int

	ema          float64
	sampleCount  int
	lastSize     int
	lastDuration float64 // seconds
}

// New constructs an Optimizer with initialSize clamped to [64, 4096].
func New(initialSize int) *Optimizer {
	clamped := clamp(initialSize)
	return &Optimizer{initialSize: clamped, currentSize: clamped}
}

func clamp(n int) int {
	if n < MinChunkSize {
		return MinChunkSize
	}
	if n > MaxChunkSize {
		return MaxChunkSize
	}
	return n
}

// NextSize returns the chunk size to use for the next transfer slice.
func (o *Optimizer) NextSize() int {
	return o.currentSize
}

// Record reports the size and duration (seconds) of a completed chunk
// transfer and updates the EMA and chunk size per the rules in §4.D.
// Duration must be > 0; callers should skip recording degenerate
// zero-duration chunks.
func (o *Optimizer) Record(sizeBytes int, durationSeconds float64) {
	if sizeBytes <= 0 || durationSeconds <= 0 {
		return
	}
	throughput := float64(sizeBytes) / durationSeconds

	o.lastSize = sizeBytes
	o.lastDuration = durationSeconds
	o.sampleCount++

	if o.sampleCount == 1 {
		o.ema = throughput
	} else {
		o.ema = emaAlpha*throughput + (1-emaAlpha)*o.ema
	}

	if o.sampleCount < minSamplesForTune {
		return
	}

	switch {
	case throughput > 0.95*o.ema && o.currentSize < MaxChunkSize:
		grow := o.currentSize / 4
		if grow < 64 {
			grow = 64
		}
		o.currentSize = clamp(o.currentSize + grow)
	case throughput < 0.5*o.ema:
		o.currentSize = o.initialSize
	case throughput < 0.8*o.ema && o.currentSize > o.initialSize:
		shrink := o.currentSize / 4
		if shrink < 32 {
			shrink = 32
		}
		o.currentSize = o.currentSize - shrink
		if o.currentSize < o.initialSize {
			o.currentSize = o.initialSize
		}
	}

	o.currentSize = clamp(o.currentSize)
}

// EMA returns the current exponential moving average of throughput
// (bytes/second), for diagnostics.
func (o *Optimizer) EMA() float64 { return o.ema }

// SampleCount returns the number of Record calls observed so far.
func (o *Optimizer) SampleCount() int { return o.sampleCount }
