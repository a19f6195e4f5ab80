// Package encoder abstracts the runtime that executes the vision-language model.
//
// The Go process owns request handling, preprocessing and normalization; the
// forward pass runs in a model runtime reached through one of the backends:
//
//   - openai:  OpenAI-compatible /v1/embeddings servers (infinity, vLLM, LocalAI).
//   - kserve:  KServe/Triton v2 REST inference protocol, raw tensors.
//   - bedrock: Amazon Bedrock Titan Multimodal Embeddings.
//   - stub:    deterministic in-process vectors for development and tests.
//
// Backends return raw features. Callers normalize.
package encoder

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync/atomic"
	"time"

	"clipd/internal/preprocess"
)

// Encoder produces raw (unnormalized) embeddings for images and texts.
type Encoder interface {
	// EncodeImage embeds a single image already resized to the model input.
	EncodeImage(ctx context.Context, img *image.RGBA) ([]float32, error)
	// EncodeText embeds every text, returning one row per input in order.
	EncodeText(ctx context.Context, texts []string) ([][]float32, error)
	// Info describes the backend and model.
	Info() Info
	// Close releases backend resources.
	Close() error
}

// Info describes an encoder.
type Info struct {
	Backend string
	Model   string
	// Dim is the embedding size, 0 while unknown.
	Dim int
}

// Backend names accepted by New.
const (
	BackendOpenAI  = "openai"
	BackendKServe  = "kserve"
	BackendBedrock = "bedrock"
	BackendStub    = "stub"
)

// Options configure New.
type Options struct {
	Backend string
	Model   string
	// BaseURL of the runtime (openai, kserve).
	BaseURL string
	APIKey  string
	// Transform is applied by backends that need a tensor (kserve).
	Transform preprocess.Transform
	// Dim fixes the output size (stub, bedrock). Zero selects the backend default.
	Dim            int
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	AWSRegion      string
	AWSProfile     string
	// Static AWS credentials; empty uses the default provider chain.
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
}

// New builds the encoder named by opts.Backend.
func New(ctx context.Context, opts Options) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendOpenAI:
		return NewOpenAI(opts)
	case BackendKServe:
		return NewKServe(opts)
	case BackendBedrock:
		return NewBedrock(ctx, opts)
	case BackendStub, "":
		return NewStub(opts.Model, opts.Dim), nil
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", opts.Backend)
	}
}

// dimTracker remembers the embedding size seen in the first good response and
// rejects later responses of a different size.
type dimTracker struct{ n atomic.Int64 }

func (d *dimTracker) get() int { return int(d.n.Load()) }

func (d *dimTracker) check(rows [][]float32) error {
	if len(rows) == 0 {
		return ErrUpstream("runtime returned no embeddings", 0)
	}
	want := len(rows[0])
	if want == 0 {
		return ErrUpstream("runtime returned an empty embedding", 0)
	}
	for i, r := range rows {
		if len(r) != want {
			return ErrUpstream(fmt.Sprintf("embedding %d has dim %d, expected %d", i, len(r), want), 0)
		}
	}
	if !d.n.CompareAndSwap(0, int64(want)) {
		if got := d.get(); got != want {
			return ErrUpstream(fmt.Sprintf("embedding dim changed from %d to %d", got, want), 0)
		}
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
