package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClampsInitialSize(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, MinChunkSize},
		{10, MinChunkSize},
		{1000, 1000},
		{100000, MaxChunkSize},
	}
	for _, c := range cases {
		o := New(c.in)
		assert.Equal(t, c.want, o.NextSize(), "New(%d)", c.in)
	}
}

func TestNoTuningBeforeFiveSamples(t *testing.T) {
	o := New(512)
	for i := 0; i < 4; i++ {
		o.Record(512, 0.001) // very fast, would otherwise trigger growth
	}
	assert.Equal(t, 512, o.NextSize(), "no tuning should happen before 5 samples")
}

func TestGrowsOnSustainedHighThroughput(t *testing.T) {
	o := New(512)
	for i := 0; i < 10; i++ {
		o.Record(512, 0.001) // constant throughput => each sample ~= EMA
	}
	got := o.NextSize()
	assert.Greater(t, got, 512, "expected growth after sustained throughput")
	assert.LessOrEqual(t, got, MaxChunkSize)
}

func TestResetsOnSevereThroughputDrop(t *testing.T) {
	o := New(256)
	for i := 0; i < 6; i++ {
		o.Record(2048, 0.001) // fast, grows size
	}
	grown := o.NextSize()
	assert.Greater(t, grown, 256, "expected growth before the drop")

	o.Record(grown, 10.0) // catastrophically slow relative to EMA
	assert.Equal(t, 256, o.NextSize(), "expected reset to initial size after severe drop")
}

func TestNeverLeavesBounds(t *testing.T) {
	o := New(64)
	for i := 0; i < 50; i++ {
		o.Record(64, 0.0001)
		got := o.NextSize()
		assert.GreaterOrEqual(t, got, MinChunkSize)
		assert.LessOrEqual(t, got, MaxChunkSize)
	}
}

func TestIgnoresDegenerateSamples(t *testing.T) {
	o := New(512)
	o.Record(0, 1.0)
	o.Record(512, 0)
	o.Record(-1, 1.0)
	assert.Equal(t, 0, o.SampleCount(), "degenerate samples must not be recorded")
}
