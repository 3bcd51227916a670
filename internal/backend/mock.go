package backend

import (
	"context"
	"fmt"
	"time"
)

// mockDecoder is a stand-in backend for development and tests. An optional
// load delay simulates heavy model initialization.
type mockDecoder struct {
	loadDelay time.Duration
}

func NewMockDecoder() Decoder {
	return &mockDecoder{}
}

// NewSlowMockDecoder simulates a backend that takes delay to reach ready.
func NewSlowMockDecoder(delay time.Duration) Decoder {
	return &mockDecoder{loadDelay: delay}
}

func (m *mockDecoder) Load(ctx context.Context) error {
	if m.loadDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(m.loadDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockDecoder) Decode(_ context.Context, samples []float32, final bool) (Result, error) {
	mode := "partial"
	if final {
		mode = "final"
	}
	return Result{
		Text:       fmt.Sprintf("[%s transcript samples=%d]", mode, len(samples)),
		Confidence: 0,
	}, nil
}
