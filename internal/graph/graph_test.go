package graph

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControlMapping(t *testing.T) {
	tests := []struct {
		control int
		pan     float64
		gain    float64
	}{
		{0, -1, 0},
		{25, -0.5, 0.25},
		{50, 0, 0.5},
		{100, 1, 1},
		{-10, -1, 0},
		{250, 1, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.pan, ControlToPan(tt.control), 1e-9, "pan for %d", tt.control)
		assert.InDelta(t, tt.gain, ControlToGain(tt.control), 1e-9, "gain for %d", tt.control)
	}
}

func TestControlRoundTrip(t *testing.T) {
	for v := ControlMin; v <= ControlMax; v++ {
		assert.Equal(t, v, PanToControl(ControlToPan(v)))
		assert.Equal(t, v, GainToControl(ControlToGain(v)))
	}
}

func TestGainClampsAndApplies(t *testing.T) {
	g := NewGain(2)
	assert.Equal(t, 1.0, g.Value())

	g.Set(0.5)
	samples := []float32{1, -0.5, 0.25}
	g.Apply(samples)
	assert.Equal(t, []float32{0.5, -0.25, 0.125}, samples)

	g.Set(-1)
	assert.Equal(t, 0.0, g.Value())
}

func TestPannerMono(t *testing.T) {
	p := NewPanner(0)
	out := p.Process([]float32{1}, 1)
	assert.InDelta(t, math.Sqrt2/2, out[0], 1e-6)
	assert.InDelta(t, math.Sqrt2/2, out[1], 1e-6)

	p.SetPan(-1)
	out = p.Process([]float32{1, 0.5}, 1)
	assert.InDeltaSlice(t, []float32{1, 0, 0.5, 0}, out, 1e-6)

	p.SetPan(5)
	assert.Equal(t, 1.0, p.Pan())
	out = p.Process([]float32{1}, 1)
	assert.InDeltaSlice(t, []float32{0, 1}, out, 1e-6)
}

func TestPannerStereo(t *testing.T) {
	p := NewPanner(0)
	out := p.Process([]float32{0.3, 0.7}, 2)
	assert.InDeltaSlice(t, []float32{0.3, 0.7}, out, 1e-6)

	p.SetPan(-1)
	out = p.Process([]float32{0.3, 0.7}, 2)
	assert.InDeltaSlice(t, []float32{1.0, 0}, out, 1e-6)

	p.SetPan(1)
	out = p.Process([]float32{0.3, 0.7}, 2)
	assert.InDeltaSlice(t, []float32{0, 1.0}, out, 1e-6)
}

func TestPannerConcurrentSet(t *testing.T) {
	p := NewPanner(0)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			p.SetPan(float64(i%3) - 1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			p.Process([]float32{1, 1}, 1)
		}
	}()
	wg.Wait()
}
