package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/pcm"
)

// execDecoder shells out to an external transcriber per segment. The command
// receives a WAV file path and prints a JSON result on stdout.
type execDecoder struct {
	cmd []string
	cfg config.ModelConfig
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecDecoder(cfg config.ModelConfig) (Decoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse backend command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("backend command is empty")
	}
	return &execDecoder{cmd: args, cfg: cfg}, nil
}

func (d *execDecoder) Load(_ context.Context) error {
	if _, err := exec.LookPath(d.cmd[0]); err != nil {
		return fmt.Errorf("backend command not found: %w", err)
	}
	if d.cfg.ModelPath != "" {
		if _, err := os.Stat(d.cfg.ModelPath); err != nil {
			return fmt.Errorf("model path: %w", err)
		}
	}
	return nil
}

func (d *execDecoder) Decode(ctx context.Context, samples []float32, final bool) (Result, error) {
	file, err := os.CreateTemp(os.TempDir(), "vox_segment_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := pcm.WriteWAV(file, samples, d.cfg.SampleRate); err != nil {
		return Result{}, err
	}

	cmdArgs := append([]string{}, d.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if d.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", d.cfg.ModelPath)
	}
	if d.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", d.cfg.Language)
	}
	if !final {
		cmdArgs = append(cmdArgs, "--partial")
	}

	command := exec.CommandContext(ctx, d.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("backend command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode backend response: %w", err)
	}
	return Result{Text: resp.Text, Confidence: resp.Confidence}, nil
}
