package vcengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/tphakala/rtvc/internal/errors"
	"github.com/tphakala/rtvc/internal/logging"
)

// BatchAdapter implements ConversionBackend by shelling out to an external
// file-batch voice converter per chunk: write a scratch WAV, invoke the
// binary, read back the result. It deliberately ignores context (§4.4) —
// the external converter is stateless per file — so audible seams at chunk
// boundaries are an accepted tradeoff of this backend.
type BatchAdapter struct {
	cfg ConversionConfig

	mu         sync.Mutex
	scratchDir string
	logger     *slog.Logger
}

// NewBatchAdapter constructs an uninitialized BatchAdapter. Call Initialize
// before use.
func NewBatchAdapter(cfg ConversionConfig) *BatchAdapter {
	logger := logging.ForService("vcengine-batch")
	if logger == nil {
		logger = slog.Default().With("service", "vcengine-batch")
	}
	return &BatchAdapter{cfg: cfg, logger: logger}
}

// Initialize creates the scratch directory owned by this backend instance.
func (b *BatchAdapter) Initialize(ctx context.Context) error {
	root := b.cfg.ScratchDir
	if root == "" {
		root = os.TempDir()
	}
	dir, err := os.MkdirTemp(root, "rtvc-batch-*")
	if err != nil {
		return errors.New(err).
			Component("vcengine").
			Category(errors.CategoryBackendInit).
			Context("operation", "create_scratch_dir").
			Context("root", root).
			Build()
	}

	b.mu.Lock()
	b.scratchDir = dir
	b.mu.Unlock()

	b.logger.Info("batch adapter initialized", "scratch_dir", dir, "converter", b.cfg.ConverterPath)
	return nil
}

// ConvertChunk writes chunk to a scratch WAV, invokes the external
// converter, and reads the converted result back. context is unused. On
// failure it returns a non-retryable BackendConvertError; the pipeline
// substitutes silence.
func (b *BatchAdapter) ConvertChunk(ctx context.Context, chunk, _ []Sample) ([]Sample, error) {
	b.mu.Lock()
	dir := b.scratchDir
	b.mu.Unlock()

	if dir == "" {
		return nil, b.convertErr(errors.NewStd("batch adapter not initialized"))
	}

	id := uuid.NewString()
	srcPath := filepath.Join(dir, id+"-in.wav")
	dstPath := filepath.Join(dir, id+"-out.wav")
	defer func() {
		_ = os.Remove(srcPath)
		_ = os.Remove(dstPath)
	}()

	if err := os.WriteFile(srcPath, encodeFloatWAV(chunk, b.cfg.SampleRate), 0o600); err != nil {
		return nil, b.convertErr(err)
	}

	if err := b.runConverter(ctx, srcPath, dstPath); err != nil {
		return nil, b.convertErr(err)
	}

	out, err := os.ReadFile(dstPath)
	if err != nil {
		return nil, b.convertErr(err)
	}

	samples, sampleRate, err := decodeFloatWAV(out)
	if err != nil {
		return nil, b.convertErr(err)
	}
	if len(samples) == 0 {
		return nil, b.convertErr(errors.NewStd("converter produced empty audio"))
	}

	if sampleRate != 0 && sampleRate != b.cfg.SampleRate {
		samples = resampleLinear(samples, sampleRate, b.cfg.SampleRate)
	}

	return fitToChunkSize(samples, b.cfg.ChunkSize), nil
}

// runConverter invokes the external binary with the parameters from §6.3.
func (b *BatchAdapter) runConverter(ctx context.Context, srcPath, dstPath string) error {
	args := []string{
		"--input", srcPath,
		"--output", dstPath,
		"--model", b.cfg.ModelID,
		"--pitch-shift", fmt.Sprintf("%d", b.cfg.PitchShift),
		"--index-rate", fmt.Sprintf("%f", b.cfg.IndexRate),
	}
	if b.cfg.UseRMVPE {
		args = append(args, "--use-rmvpe")
	}
	args = append(args, b.cfg.ConverterArgs...)

	cmd := exec.CommandContext(ctx, b.cfg.ConverterPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("external converter failed: %w (output: %s)", err, output)
	}
	return nil
}

// Cleanup removes the scratch directory. Idempotent.
func (b *BatchAdapter) Cleanup() error {
	b.mu.Lock()
	dir := b.scratchDir
	b.scratchDir = ""
	b.mu.Unlock()

	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		b.logger.Warn("failed to remove scratch directory, leaking temp files", "dir", dir, "error", err)
	}
	return nil
}

func (b *BatchAdapter) convertErr(cause error) error {
	b.logger.Warn("batch conversion failed, substituting silence", "error", cause)
	return errors.New(cause).
		Component("vcengine").
		Category(errors.CategoryBackendConvert).
		Retryable(false).
		Build()
}

// fitToChunkSize right-pads with zeros or truncates from the right so the
// result is exactly n samples long, per §4.4 step 4.
func fitToChunkSize(samples []Sample, n int) []Sample {
	if len(samples) == n {
		return samples
	}
	if len(samples) > n {
		return samples[:n]
	}
	padded := make([]Sample, n)
	copy(padded, samples)
	return padded
}

// resampleLinear performs simple linear-interpolation resampling. Only used
// when the external converter's output sample rate differs from the
// working rate; high-quality resampling is explicitly out of scope (§4.4).
func resampleLinear(samples []Sample, fromRate, toRate int) []Sample {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen <= 0 {
		return nil
	}
	out := make([]Sample, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))
		if idx+1 < len(samples) {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else {
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}
