package worker

import (
	"context"
	"fmt"

	"github.com/voxlabs/vox-core/internal/backend"
	"github.com/voxlabs/vox-core/internal/segment"
)

// Strategy decides which segments reach the inference backend and how their
// results are tagged. Decode returns emitted=false when the strategy chose
// not to run the backend for this segment.
type Strategy interface {
	Name() string
	Decode(ctx context.Context, seg segment.Segment, final bool) (res backend.Result, emitted bool, err error)
}

// NewStrategy builds the strategy variant configured for a model.
func NewStrategy(kind string, dec backend.Decoder) (Strategy, error) {
	switch kind {
	case "fast":
		return &fastCycle{dec: dec}, nil
	case "vad":
		return &conservativeVAD{dec: dec}, nil
	default:
		return nil, fmt.Errorf("unsupported strategy %q", kind)
	}
}

// fastCycle decodes every flush independently. Suited to backends whose
// decode cost is low relative to the policy's decode interval; partial
// results supersede each other until the segmentation boundary.
type fastCycle struct {
	dec backend.Decoder
}

func (s *fastCycle) Name() string { return "fast" }

func (s *fastCycle) Decode(ctx context.Context, seg segment.Segment, final bool) (backend.Result, bool, error) {
	res, err := safeDecode(ctx, s.dec, seg.Samples, final)
	return res, true, err
}

// conservativeVAD decodes only final segments, trading responsiveness for
// throughput on backends with high per-call latency. Partial flush
// notifications are dropped without touching the backend.
type conservativeVAD struct {
	dec backend.Decoder
}

func (s *conservativeVAD) Name() string { return "vad" }

func (s *conservativeVAD) Decode(ctx context.Context, seg segment.Segment, final bool) (backend.Result, bool, error) {
	if !final {
		return backend.Result{}, false, nil
	}
	res, err := safeDecode(ctx, s.dec, seg.Samples, final)
	return res, true, err
}

// safeDecode isolates backend faults: a panicking decode is converted into
// an error result so one bad segment cannot kill the worker.
func safeDecode(ctx context.Context, dec backend.Decoder, samples []float32, final bool) (res backend.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = backend.Result{}
			err = fmt.Errorf("decode panic: %v", r)
		}
	}()
	return dec.Decode(ctx, samples, final)
}
