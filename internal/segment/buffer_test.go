package segment

import (
	"testing"
	"time"
)

const testRate = 16000

// tone produces ms milliseconds of constant-amplitude samples. Mean-square
// energy of the result is amplitude squared.
func tone(ms int, amplitude float32) []float32 {
	n := testRate * ms / 1000
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = amplitude
	}
	return samples
}

func intervalPolicy(intervalMS int) Policy {
	return Policy{DecodeInterval: time.Duration(intervalMS) * time.Millisecond}
}

func vadPolicy() Policy {
	return Policy{
		MinDuration:      3000 * time.Millisecond,
		MaxDuration:      15000 * time.Millisecond,
		SilenceThreshold: 5e-4,
		SilenceWindow:    500 * time.Millisecond,
	}
}

func TestIntervalPolicyFlushesPartials(t *testing.T) {
	b := NewBuffer(intervalPolicy(200), testRate)

	flushes := 0
	for i := 0; i < 5; i++ {
		d := b.Push(tone(200, 0.1))
		if !d.Flush {
			t.Fatalf("push %d: expected flush", i)
		}
		if d.Final {
			t.Fatalf("push %d: interval flush must not be final", i)
		}
		if d.Reason != ReasonInterval {
			t.Fatalf("push %d: expected interval reason, got %v", i, d.Reason)
		}
		seg := b.ForceFlush()
		if seg.Duration != 200*time.Millisecond {
			t.Fatalf("push %d: expected 200ms segment, got %v", i, seg.Duration)
		}
		flushes++
	}
	if flushes != 5 {
		t.Fatalf("expected 5 partial flushes, got %d", flushes)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after flushes, got %d samples", b.Len())
	}
}

func TestSilenceEndsSegment(t *testing.T) {
	b := NewBuffer(vadPolicy(), testRate)

	// 3.5s of speech-level audio must not flush on its own.
	for i := 0; i < 35; i++ {
		if d := b.Push(tone(100, 0.1)); d.Flush {
			t.Fatalf("unexpected flush at %v", b.Duration())
		}
	}

	// Feed 600ms of near-silence; the flush fires once the trailing window
	// is fully below threshold.
	var decision Decision
	flushes := 0
	for i := 0; i < 6; i++ {
		d := b.Push(tone(100, 0.01))
		if d.Flush {
			decision = d
			flushes++
			break
		}
	}
	if flushes != 1 {
		t.Fatalf("expected exactly one flush, got %d", flushes)
	}
	if !decision.Final || decision.Reason != ReasonSilence {
		t.Fatalf("expected final silence flush, got %+v", decision)
	}
	seg := b.ForceFlush()
	if seg.Duration < 3900*time.Millisecond || seg.Duration > 4100*time.Millisecond {
		t.Fatalf("expected ~4s segment, got %v", seg.Duration)
	}
	if seg.TrailingEnergy >= 5e-4 {
		t.Fatalf("expected quiet trailing window, got %v", seg.TrailingEnergy)
	}
}

func TestMaxDurationForcesFlush(t *testing.T) {
	b := NewBuffer(vadPolicy(), testRate)

	flushes := 0
	var flushedAt time.Duration
	for i := 0; i < 160; i++ { // 16s of continuous speech
		d := b.Push(tone(100, 0.1))
		if d.Flush {
			if !d.Final || d.Reason != ReasonMaxDuration {
				t.Fatalf("expected forced final flush, got %+v", d)
			}
			flushes++
			flushedAt = b.Duration()
			b.ForceFlush()
		}
	}
	if flushes != 1 {
		t.Fatalf("expected exactly one forced flush, got %d", flushes)
	}
	if flushedAt != 15*time.Second {
		t.Fatalf("expected forced flush at 15s, got %v", flushedAt)
	}
}

func TestSegmentDurationNeverExceedsMax(t *testing.T) {
	b := NewBuffer(vadPolicy(), testRate)
	for i := 0; i < 400; i++ {
		d := b.Push(tone(50, 0.1))
		if b.Duration() > 15*time.Second {
			t.Fatalf("buffer exceeded max duration: %v", b.Duration())
		}
		if d.Flush {
			seg := b.ForceFlush()
			if seg.Duration > 15*time.Second {
				t.Fatalf("segment exceeded max duration: %v", seg.Duration)
			}
		}
	}
}

func TestResetDiscardsWithoutEmitting(t *testing.T) {
	b := NewBuffer(vadPolicy(), testRate)
	b.Push(tone(1000, 0.1))
	if b.Len() == 0 {
		t.Fatal("expected buffered samples")
	}
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after reset, got %d samples", b.Len())
	}
	seg := b.ForceFlush()
	if len(seg.Samples) != 0 || seg.Duration != 0 {
		t.Fatalf("expected empty segment after reset, got %v", seg.Duration)
	}
}

func TestForceFlushMidSegment(t *testing.T) {
	b := NewBuffer(vadPolicy(), testRate)
	b.Push(tone(1200, 0.1))
	seg := b.ForceFlush()
	if seg.Duration != 1200*time.Millisecond {
		t.Fatalf("expected 1.2s segment, got %v", seg.Duration)
	}
	if b.Len() != 0 {
		t.Fatal("expected cleared buffer after force flush")
	}
}
