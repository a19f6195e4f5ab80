package service

import (
	"clipd/internal/encoder"
	"clipd/internal/preprocess"
)

// Package defaults.
const (
	DefaultLogitScale = 100
	DefaultMaxTexts   = 256
	// warmupProbe is encoded once at startup to verify the runtime answers.
	warmupProbe = "a photo"
)

// Config configures New. Zero values select package defaults.
type Config struct {
	Encoder    encoder.Encoder
	Transform  preprocess.Transform
	LogitScale float32
	MaxTexts   int
	// MaxPixels bounds width*height of uploaded images.
	MaxPixels int
}

func (c Config) withDefaults() Config {
	if c.LogitScale <= 0 {
		c.LogitScale = DefaultLogitScale
	}
	if c.MaxTexts <= 0 {
		c.MaxTexts = DefaultMaxTexts
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = preprocess.DefaultMaxPixels
	}
	if c.Transform.Size == 0 {
		c.Transform = preprocess.SigLIP(224)
	}
	return c
}
