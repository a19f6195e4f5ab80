package encoder

import (
	"context"
	"hash/fnv"
	"image"
	"math/rand"
)

// DefaultStubDim matches the SigLIP base embedding size.
const DefaultStubDim = 768

// stubEncoder returns deterministic pseudo-random vectors derived from the
// input content. Identical inputs always map to identical vectors.
type stubEncoder struct {
	model string
	dim   int
}

// NewStub returns an in-process encoder that needs no runtime.
func NewStub(model string, dim int) Encoder {
	if dim <= 0 {
		dim = DefaultStubDim
	}
	if model == "" {
		model = "stub"
	}
	return &stubEncoder{model: model, dim: dim}
}

func (e *stubEncoder) EncodeImage(ctx context.Context, img *image.RGBA) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	h.Write([]byte("image:"))
	h.Write(img.Pix)
	return e.vector(h.Sum64()), nil
}

func (e *stubEncoder) EncodeText(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, ErrBadInput("no texts to encode")
	}
	rows := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		h.Write([]byte("text:"))
		h.Write([]byte(t))
		rows[i] = e.vector(h.Sum64())
	}
	return rows, nil
}

func (e *stubEncoder) vector(seed uint64) []float32 {
	r := rand.New(rand.NewSource(int64(seed)))
	v := make([]float32, e.dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func (e *stubEncoder) Info() Info { return Info{Backend: BackendStub, Model: e.model, Dim: e.dim} }

func (e *stubEncoder) Close() error { return nil }
