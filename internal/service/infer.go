package service

import (
	"context"
	"fmt"
	"image"
	"time"

	"clipd/internal/encoder"
	"clipd/internal/preprocess"
	"clipd/internal/vecmath"
	"clipd/pkg/types"
)

const (
	opEncodeImage = "encode_image"
	opEncodeText  = "encode_text"
	opSimilarity  = "compute_similarity"
)

// EncodeImage embeds one uploaded image. The result has a single unit-length row.
func (s *Service) EncodeImage(ctx context.Context, data []byte) (out [][]float32, err error) {
	start := time.Now()
	defer func() { err = translate(err); observe(opEncodeImage, start, err) }()

	img, err := s.prepareImage(data)
	if err != nil {
		return nil, err
	}
	v, err := s.imageFeatures(ctx, img)
	if err != nil {
		return nil, err
	}
	return [][]float32{v}, nil
}

// EncodeText embeds texts, returning one unit-length row per text in order.
func (s *Service) EncodeText(ctx context.Context, texts []string) (out [][]float32, err error) {
	start := time.Now()
	defer func() { err = translate(err); observe(opEncodeText, start, err) }()

	if err := s.validateTexts(texts); err != nil {
		return nil, err
	}
	return s.textFeatures(ctx, texts)
}

// ComputeSimilarity scores texts against the image: softmax over
// logit_scale * cosine similarity. Probabilities follow the order of texts.
func (s *Service) ComputeSimilarity(ctx context.Context, data []byte, texts []string) (out types.SimilarityResponse, err error) {
	start := time.Now()
	defer func() { err = translate(err); observe(opSimilarity, start, err) }()

	if err := s.validateTexts(texts); err != nil {
		return out, err
	}
	img, err := s.prepareImage(data)
	if err != nil {
		return out, err
	}
	iv, err := s.imageFeatures(ctx, img)
	if err != nil {
		return out, err
	}
	tv, err := s.textFeatures(ctx, texts)
	if err != nil {
		return out, err
	}
	logits, err := vecmath.Logits(iv, tv, float64(s.logitScale))
	if err != nil {
		return out, err
	}
	return types.SimilarityResponse{
		Probabilities: vecmath.Softmax(logits),
		Labels:        append([]string(nil), texts...),
	}, nil
}

func (s *Service) validateTexts(texts []string) error {
	if len(texts) == 0 {
		return BadRequest("text_list must not be empty")
	}
	if len(texts) > s.maxTexts {
		return BadRequest(fmt.Sprintf("text_list has %d entries, limit is %d", len(texts), s.maxTexts))
	}
	return nil
}

func (s *Service) prepareImage(data []byte) (*image.RGBA, error) {
	img, _, err := preprocess.Decode(data, s.maxPixels)
	if err != nil {
		return nil, err
	}
	return s.transform.Resized(img), nil
}

func (s *Service) imageFeatures(ctx context.Context, img *image.RGBA) ([]float32, error) {
	raw, err := s.enc.EncodeImage(ctx, img)
	if err != nil {
		return nil, err
	}
	inputsTotal.WithLabelValues("image").Inc()
	return vecmath.Normalize(raw)
}

func (s *Service) textFeatures(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := s.enc.EncodeText(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(texts) {
		return nil, encoder.ErrUpstream(fmt.Sprintf("encoder returned %d rows for %d texts", len(raw), len(texts)), 0)
	}
	inputsTotal.WithLabelValues("text").Add(float64(len(texts)))
	return vecmath.NormalizeRows(raw)
}
