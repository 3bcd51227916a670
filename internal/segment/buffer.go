package segment

import (
	"time"

	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/pcm"
)

// FlushReason records which trigger produced a flush decision.
type FlushReason int

const (
	ReasonNone FlushReason = iota
	// ReasonInterval fires when an interval-gated policy has accumulated one
	// decode cycle worth of audio. Interval flushes are always partial.
	ReasonInterval
	// ReasonSilence fires when the trailing window drops below the energy
	// threshold after the minimum duration. Silence flushes are final.
	ReasonSilence
	// ReasonMaxDuration fires when the buffer hits the policy ceiling before
	// silence was detected. Forced flushes are final.
	ReasonMaxDuration
)

func (r FlushReason) String() string {
	switch r {
	case ReasonInterval:
		return "interval"
	case ReasonSilence:
		return "silence"
	case ReasonMaxDuration:
		return "max_duration"
	default:
		return "none"
	}
}

// Decision is the outcome of a Push. When Flush is set the caller takes the
// segment with ForceFlush before pushing more audio.
type Decision struct {
	Flush  bool
	Final  bool
	Reason FlushReason
}

// Segment is an accumulated run of samples handed to a worker for decoding.
type Segment struct {
	Samples        []float32
	Duration       time.Duration
	TrailingEnergy float64
}

// Policy configures the flush triggers for one buffer.
type Policy struct {
	MinDuration      time.Duration
	MaxDuration      time.Duration
	SilenceThreshold float64
	SilenceWindow    time.Duration
	DecodeInterval   time.Duration
}

// PolicyFromConfig converts the yaml policy into runtime durations.
func PolicyFromConfig(cfg config.SegmentPolicy) Policy {
	return Policy{
		MinDuration:      time.Duration(cfg.MinDurationMS) * time.Millisecond,
		MaxDuration:      time.Duration(cfg.MaxDurationMS) * time.Millisecond,
		SilenceThreshold: cfg.SilenceThreshold,
		SilenceWindow:    time.Duration(cfg.SilenceWindowMS) * time.Millisecond,
		DecodeInterval:   time.Duration(cfg.DecodeIntervalMS) * time.Millisecond,
	}
}

// Buffer accumulates normalized PCM samples for one session and decides when
// the accumulated run is ready for a worker. It is owned by a single session
// loop and is not safe for concurrent use.
type Buffer struct {
	policy     Policy
	sampleRate int
	samples    []float32
}

func NewBuffer(policy Policy, sampleRate int) *Buffer {
	return &Buffer{
		policy:     policy,
		sampleRate: sampleRate,
		samples:    make([]float32, 0, sampleRate*2),
	}
}

// Push appends samples and evaluates the flush triggers. Interval-gated
// policies flush partials every DecodeInterval; otherwise a buffer past
// MinDuration flushes final on a quiet trailing window, and MaxDuration
// forces a final flush regardless of energy.
func (b *Buffer) Push(samples []float32) Decision {
	b.samples = append(b.samples, samples...)
	dur := b.Duration()

	if b.policy.DecodeInterval > 0 {
		if dur >= b.policy.DecodeInterval {
			return Decision{Flush: true, Final: false, Reason: ReasonInterval}
		}
		return Decision{}
	}

	if b.policy.MinDuration > 0 && dur >= b.policy.MinDuration {
		if b.TrailingEnergy() < b.policy.SilenceThreshold {
			return Decision{Flush: true, Final: true, Reason: ReasonSilence}
		}
	}
	if b.policy.MaxDuration > 0 && dur >= b.policy.MaxDuration {
		return Decision{Flush: true, Final: true, Reason: ReasonMaxDuration}
	}
	return Decision{}
}

// ForceFlush takes the accumulated segment and clears the buffer. Used both
// after a positive Push decision and for client-driven flushes.
func (b *Buffer) ForceFlush() Segment {
	seg := Segment{
		Samples:        b.samples,
		Duration:       b.Duration(),
		TrailingEnergy: b.TrailingEnergy(),
	}
	b.samples = make([]float32, 0, b.sampleRate*2)
	return seg
}

// Reset discards buffered samples without emitting a segment. Used on model
// switch and session teardown.
func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Duration returns the buffered audio length.
func (b *Buffer) Duration() time.Duration {
	return pcm.Duration(len(b.samples), b.sampleRate)
}

// TrailingEnergy computes mean-square power over the trailing silence window,
// or over the whole buffer when it is shorter than the window.
func (b *Buffer) TrailingEnergy() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	window := pcm.SampleCount(b.policy.SilenceWindow, b.sampleRate)
	if window <= 0 || window > len(b.samples) {
		window = len(b.samples)
	}
	return pcm.Energy(b.samples[len(b.samples)-window:])
}
