package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"clipd/internal/common/fsutil"
	"clipd/internal/config"
	"clipd/internal/encoder"
	"clipd/internal/preprocess"
	"clipd/internal/service"
)

// flagValues holds raw flag values. Only flags the user set are applied on
// top of defaults, the config file and the environment.
type flagValues struct {
	configPath  string
	envFile     string
	addr        string
	backend     string
	model       string
	runtimeURL  string
	apiKey      string
	preprocess  string
	imageSize   int
	logitScale  float32
	embedDim    int
	maxTexts    int
	inferSec    int64
	logLevel    string
	logFormat   string
	awsRegion   string
	awsProfile  string
	cors        bool
	corsOrigins string
}

func newRootCmd() *cobra.Command {
	fv := &flagValues{}
	root := &cobra.Command{
		Use:           "clipd",
		Short:         "HTTP server for CLIP/SigLIP image and text embeddings",
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, fv)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&fv.configPath, "config", "", "Config file (.yaml, .json, .toml); defaults to $CLIPD_CONFIG")
	pf.StringVar(&fv.envFile, "env-file", ".env", "dotenv file loaded before reading CLIPD_* variables")
	pf.StringVar(&fv.addr, "addr", "", "HTTP listen address, e.g. :8000")
	pf.StringVar(&fv.backend, "backend", "", "Encoder backend: openai, kserve, bedrock or stub")
	pf.StringVar(&fv.model, "model", "", "Model name as known to the runtime")
	pf.StringVar(&fv.runtimeURL, "runtime-url", "", "Base URL of the model runtime")
	pf.StringVar(&fv.apiKey, "api-key", "", "Bearer token for the model runtime")
	pf.StringVar(&fv.preprocess, "preprocess", "", "Preprocessing preset: siglip or clip")
	pf.IntVar(&fv.imageSize, "image-size", 0, "Model input resolution in pixels")
	pf.Float32Var(&fv.logitScale, "logit-scale", 0, "Scale applied to cosine similarities before softmax")
	pf.IntVar(&fv.embedDim, "embed-dim", 0, "Embedding size (stub, bedrock)")
	pf.IntVar(&fv.maxTexts, "max-texts", 0, "Maximum texts per request")
	pf.Int64Var(&fv.inferSec, "infer-timeout", 0, "Per-request inference timeout in seconds (0=none)")
	pf.StringVar(&fv.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&fv.logFormat, "log-format", "", "Log format: json or console")
	pf.StringVar(&fv.awsRegion, "aws-region", "", "AWS region (bedrock)")
	pf.StringVar(&fv.awsProfile, "aws-profile", "", "AWS shared config profile (bedrock)")
	pf.BoolVar(&fv.cors, "cors", true, "Enable CORS (--cors=false disables it)")
	pf.StringVar(&fv.corsOrigins, "cors-origins", "", "Comma separated allowed CORS origins")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd, fv)
			},
		},
		newEncodeTextCmd(fv),
		newEncodeImageCmd(fv),
		newSimilarityCmd(fv),
	)
	return root
}

// loadConfig resolves configuration with increasing precedence:
// defaults, config file, environment (after the dotenv file), flags.
func loadConfig(cmd *cobra.Command, fv *flagValues) (config.Config, error) {
	if fv.envFile != "" {
		envPath, err := fsutil.ExpandHome(fv.envFile)
		if err != nil {
			return config.Config{}, err
		}
		if fsutil.PathExists(envPath) {
			if err := godotenv.Load(envPath); err != nil {
				return config.Config{}, fmt.Errorf("load %s: %w", envPath, err)
			}
		}
	}
	cfg := config.Defaults()

	path := fv.configPath
	if path == "" {
		path = os.Getenv("CLIPD_CONFIG")
	}
	if path != "" {
		p, err := fsutil.ExpandHome(path)
		if err != nil {
			return cfg, err
		}
		fileCfg, err := config.Load(p)
		if err != nil {
			return cfg, err
		}
		cfg = cfg.Merge(fileCfg)
	}

	envCfg, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		return cfg, err
	}
	cfg = cfg.Merge(envCfg)
	cfg = cfg.Merge(flagOverrides(cmd, fv))
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func flagOverrides(cmd *cobra.Command, fv *flagValues) config.Config {
	var o config.Config
	changed := cmd.Flags().Changed
	if changed("addr") {
		o.Addr = fv.addr
	}
	if changed("backend") {
		o.Backend = fv.backend
	}
	if changed("model") {
		o.Model = fv.model
	}
	if changed("runtime-url") {
		o.RuntimeURL = fv.runtimeURL
	}
	if changed("api-key") {
		o.APIKey = fv.apiKey
	}
	if changed("preprocess") {
		o.Preprocess = fv.preprocess
	}
	if changed("image-size") {
		o.ImageSize = fv.imageSize
	}
	if changed("logit-scale") {
		o.LogitScale = fv.logitScale
	}
	if changed("embed-dim") {
		o.EmbedDim = fv.embedDim
	}
	if changed("max-texts") {
		o.MaxTexts = fv.maxTexts
	}
	if changed("infer-timeout") {
		o.InferTimeoutSeconds = fv.inferSec
	}
	if changed("log-level") {
		o.LogLevel = fv.logLevel
	}
	if changed("log-format") {
		o.LogFormat = fv.logFormat
	}
	if changed("aws-region") {
		o.AWSRegion = fv.awsRegion
	}
	if changed("aws-profile") {
		o.AWSProfile = fv.awsProfile
	}
	if changed("cors") {
		o.CORSEnabled = config.Bool(fv.cors)
	}
	if changed("cors-origins") {
		o.CORSOrigins = config.SplitList(fv.corsOrigins)
	}
	return o
}

// newLogger builds the process logger from log_level and log_format.
func newLogger(cfg config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		lvl = zerolog.InfoLevel
	}
	var l zerolog.Logger
	if cfg.LogFormat == "console" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(lvl).With().Timestamp().Str("service", "clipd").Logger()
}

// buildService wires the preprocessing transform, the encoder backend and
// the model handle described by cfg.
func buildService(ctx context.Context, cfg config.Config) (*service.Service, error) {
	tr, err := preprocess.Preset(cfg.Preprocess, cfg.ImageSize)
	if err != nil {
		return nil, err
	}
	if len(cfg.Mean) == 3 {
		copy(tr.Mean[:], cfg.Mean)
	}
	if len(cfg.Std) == 3 {
		copy(tr.Std[:], cfg.Std)
	}
	enc, err := encoder.New(ctx, encoder.Options{
		Backend:        cfg.Backend,
		Model:          cfg.Model,
		BaseURL:        cfg.RuntimeURL,
		APIKey:         cfg.APIKey,
		Transform:      tr,
		Dim:            cfg.EmbedDim,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		ConnectTimeout: time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
		AWSRegion:      cfg.AWSRegion,
		AWSProfile:     cfg.AWSProfile,

		AWSAccessKeyID:     cfg.AWSAccessKeyID,
		AWSSecretAccessKey: cfg.AWSSecretAccessKey,
		AWSSessionToken:    cfg.AWSSessionToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	svc, err := service.New(service.Config{
		Encoder:    enc,
		Transform:  tr,
		LogitScale: cfg.LogitScale,
		MaxTexts:   cfg.MaxTexts,
		MaxPixels:  int(cfg.MaxImagePixels),
	})
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return svc, nil
}
