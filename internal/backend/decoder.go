package backend

import (
	"context"
	"fmt"

	"github.com/voxlabs/vox-core/internal/config"
)

// Result captures decode output from an inference backend.
type Result struct {
	Text       string
	Confidence float64
}

// Decoder abstracts one inference backend instance. Load may take seconds
// for heavy models and is called once by the owning worker before any
// Decode. Implementations need not be safe for concurrent Decode calls; the
// worker serializes access.
type Decoder interface {
	Load(ctx context.Context) error
	Decode(ctx context.Context, samples []float32, final bool) (Result, error)
}

// New builds the decoder configured for a model.
func New(cfg config.ModelConfig) (Decoder, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockDecoder(), nil
	case "exec":
		return NewExecDecoder(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend mode %q", cfg.Mode)
	}
}
