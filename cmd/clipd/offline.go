package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"clipd/internal/common/fsutil"
	"clipd/internal/config"
	"clipd/pkg/types"
)

// withService loads configuration, builds the pipeline and runs fn against
// it without starting the HTTP server.
func withService(cmd *cobra.Command, fv *flagValues, fn func(ctx context.Context, cfg config.Config, svc inferer) (any, error)) error {
	cfg, err := loadConfig(cmd, fv)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.InferTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.InferTimeoutSeconds)*time.Second)
		defer cancel()
	}
	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	out, err := fn(ctx, cfg, svc)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(out)
}

type inferer interface {
	EncodeImage(ctx context.Context, data []byte) ([][]float32, error)
	EncodeText(ctx context.Context, texts []string) ([][]float32, error)
	ComputeSimilarity(ctx context.Context, data []byte, texts []string) (types.SimilarityResponse, error)
}

func newEncodeTextCmd(fv *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "encode-text TEXT...",
		Short: "Print normalized text embeddings as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, fv, func(ctx context.Context, _ config.Config, svc inferer) (any, error) {
				feats, err := svc.EncodeText(ctx, args)
				if err != nil {
					return nil, err
				}
				return types.FeaturesResponse{Features: feats}, nil
			})
		},
	}
}

func newEncodeImageCmd(fv *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "encode-image FILE",
		Short: "Print the normalized embedding of an image file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, fv, func(ctx context.Context, cfg config.Config, svc inferer) (any, error) {
				data, err := fsutil.ReadFileLimit(args[0], cfg.MaxUploadBytes)
				if err != nil {
					return nil, err
				}
				feats, err := svc.EncodeImage(ctx, data)
				if err != nil {
					return nil, err
				}
				return types.FeaturesResponse{Features: feats}, nil
			})
		},
	}
}

func newSimilarityCmd(fv *flagValues) *cobra.Command {
	var labels string
	cmd := &cobra.Command{
		Use:   "similarity FILE --labels a,b,c",
		Short: "Print zero-shot label probabilities for an image as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			texts := config.SplitList(labels)
			if len(texts) == 0 {
				return errors.New("--labels is required")
			}
			return withService(cmd, fv, func(ctx context.Context, cfg config.Config, svc inferer) (any, error) {
				data, err := fsutil.ReadFileLimit(args[0], cfg.MaxUploadBytes)
				if err != nil {
					return nil, err
				}
				return svc.ComputeSimilarity(ctx, data, texts)
			})
		},
	}
	cmd.Flags().StringVar(&labels, "labels", "", "Comma separated candidate labels")
	return cmd
}
