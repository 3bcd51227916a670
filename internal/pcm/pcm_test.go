package pcm

import (
	"math"
	"testing"
	"time"
)

func TestDecodeNormalizes(t *testing.T) {
	// 0, 16384 (0.5), -32768 (-1.0) little-endian.
	data := []byte{0x00, 0x00, 0x00, 0x40, 0x00, 0x80}
	samples, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []float32{0, 0.5, -1.0}
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d: want %v, got %v", i, want[i], samples[i])
		}
	}
}

func TestDecodeRejectsOddLength(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected error for odd payload")
	}
}

func TestDurationSampleCountRoundTrip(t *testing.T) {
	if d := Duration(16000, 16000); d != time.Second {
		t.Fatalf("expected 1s, got %v", d)
	}
	if n := SampleCount(500*time.Millisecond, 16000); n != 8000 {
		t.Fatalf("expected 8000 samples, got %d", n)
	}
	if d := Duration(100, 0); d != 0 {
		t.Fatalf("zero rate must yield zero duration, got %v", d)
	}
}

func TestEnergyIsMeanSquare(t *testing.T) {
	samples := []float32{0.1, 0.1, 0.1, 0.1}
	got := Energy(samples)
	if math.Abs(got-0.01) > 1e-9 {
		t.Fatalf("expected 0.01, got %g", got)
	}
	if Energy(nil) != 0 {
		t.Fatal("empty input must have zero energy")
	}
}
