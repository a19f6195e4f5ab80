package service

import (
	"context"
	"errors"
	"sync"

	"clipd/internal/encoder"
	"clipd/internal/preprocess"
	"clipd/pkg/types"
)

// State is the lifecycle state of the model handle.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Service is the process-wide model handle.
type Service struct {
	enc        encoder.Encoder
	transform  preprocess.Transform
	logitScale float32
	maxTexts   int
	maxPixels  int

	mu      sync.RWMutex
	state   State
	lastErr string
}

// New builds a Service. The encoder is required.
func New(cfg Config) (*Service, error) {
	if cfg.Encoder == nil {
		return nil, errors.New("service: encoder required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Transform.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		enc:        cfg.Encoder,
		transform:  cfg.Transform,
		logitScale: cfg.LogitScale,
		maxTexts:   cfg.MaxTexts,
		maxPixels:  cfg.MaxPixels,
		state:      StateLoading,
	}, nil
}

// Warmup encodes a probe text so the first real request does not pay for a
// cold runtime. The service reports ready only after it succeeds.
func (s *Service) Warmup(ctx context.Context) error {
	_, err := s.enc.EncodeText(ctx, []string{warmupProbe})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateError
		s.lastErr = err.Error()
		return err
	}
	s.state = StateReady
	s.lastErr = ""
	return nil
}

// Ready reports whether warmup has succeeded.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateReady
}

// Info describes the served model.
func (s *Service) Info() types.ModelInfo {
	s.mu.RLock()
	state, lastErr := s.state, s.lastErr
	s.mu.RUnlock()
	ei := s.enc.Info()
	return types.ModelInfo{
		Model:      ei.Model,
		Backend:    ei.Backend,
		Dim:        ei.Dim,
		ImageSize:  s.transform.Size,
		LogitScale: s.logitScale,
		State:      string(state),
		LastError:  lastErr,
	}
}

// Close releases the encoder.
func (s *Service) Close() error { return s.enc.Close() }
