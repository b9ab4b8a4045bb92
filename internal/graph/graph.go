// Package graph holds the gain and pan stages between the microphone and the
// encoder, plus the mapping from 0-100 UI controls to engine values.
package graph

import (
	"math"
	"sync/atomic"
)

const (
	ControlMin = 0
	ControlMax = 100
)

func clampControl(v int) int {
	if v < ControlMin {
		return ControlMin
	}
	if v > ControlMax {
		return ControlMax
	}
	return v
}

// ControlToPan maps a control value to [-1, 1], 50 being centre.
func ControlToPan(v int) float64 {
	return float64(clampControl(v))/50 - 1
}

// PanToControl is the inverse of ControlToPan.
func PanToControl(pan float64) int {
	return clampControl(int(math.Round((pan + 1) * 50)))
}

// ControlToGain maps a control value to [0, 1].
func ControlToGain(v int) float64 {
	return float64(clampControl(v)) / 100
}

// GainToControl is the inverse of ControlToGain.
func GainToControl(gain float64) int {
	return clampControl(int(math.Round(gain * 100)))
}

type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

// Gain multiplies samples by a value that may be changed from another
// goroutine while audio is flowing.
type Gain struct {
	value atomicFloat
}

func NewGain(v float64) *Gain {
	g := &Gain{}
	g.Set(v)
	return g
}

// Set stores v clamped to [0, 1].
func (g *Gain) Set(v float64) {
	g.value.Store(math.Max(0, math.Min(1, v)))
}

func (g *Gain) Value() float64 { return g.value.Load() }

// Apply scales samples in place.
func (g *Gain) Apply(samples []float32) {
	v := float32(g.Value())
	if v == 1 {
		return
	}
	for i := range samples {
		samples[i] *= v
	}
}

// Panner is an equal-power stereo panner. Mono input is spread across both
// channels; for stereo input the far channel is folded into the near one.
type Panner struct {
	pan atomicFloat
}

func NewPanner(pan float64) *Panner {
	p := &Panner{}
	p.SetPan(pan)
	return p
}

// SetPan stores pan clamped to [-1, 1].
func (p *Panner) SetPan(pan float64) {
	p.pan.Store(math.Max(-1, math.Min(1, pan)))
}

func (p *Panner) Pan() float64 { return p.pan.Load() }

// Process pans interleaved input with the given channel count (1 or 2) and
// returns interleaved stereo. Channels past the second are ignored.
func (p *Panner) Process(in []float32, channels int) []float32 {
	if channels <= 0 {
		return nil
	}
	pan := p.Pan()
	frames := len(in) / channels
	out := make([]float32, frames*2)

	if channels == 1 {
		l, r := equalPower((pan + 1) / 2)
		for i := 0; i < frames; i++ {
			out[2*i] = in[i] * l
			out[2*i+1] = in[i] * r
		}
		return out
	}

	if pan <= 0 {
		l, r := equalPower(pan + 1)
		for i := 0; i < frames; i++ {
			inL, inR := in[i*channels], in[i*channels+1]
			out[2*i] = inL + inR*l
			out[2*i+1] = inR * r
		}
		return out
	}

	l, r := equalPower(pan)
	for i := 0; i < frames; i++ {
		inL, inR := in[i*channels], in[i*channels+1]
		out[2*i] = inL * l
		out[2*i+1] = inR + inL*r
	}
	return out
}

func equalPower(x float64) (float32, float32) {
	angle := x * math.Pi / 2
	return float32(math.Cos(angle)), float32(math.Sin(angle))
}
