package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "CLIPD_"

// FromEnv builds a Config from CLIPD_* variables using lookup (os.LookupEnv
// in production). Unset variables leave the zero value so the result can be
// passed to Merge.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	var c Config
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("ADDR", &c.Addr)
	str("BACKEND", &c.Backend)
	str("MODEL", &c.Model)
	str("RUNTIME_URL", &c.RuntimeURL)
	str("API_KEY", &c.APIKey)
	str("PREPROCESS", &c.Preprocess)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("AWS_REGION", &c.AWSRegion)
	str("AWS_PROFILE", &c.AWSProfile)
	str("AWS_ACCESS_KEY_ID", &c.AWSAccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &c.AWSSecretAccessKey)
	str("AWS_SESSION_TOKEN", &c.AWSSessionToken)

	ints := []struct {
		key string
		dst *int64
	}{
		{"MAX_BODY_BYTES", &c.MaxBodyBytes},
		{"MAX_UPLOAD_BYTES", &c.MaxUploadBytes},
		{"MAX_IMAGE_PIXELS", &c.MaxImagePixels},
		{"INFER_TIMEOUT_SECONDS", &c.InferTimeoutSeconds},
		{"REQUEST_TIMEOUT_SECONDS", &c.RequestTimeoutSeconds},
		{"CONNECT_TIMEOUT_SECONDS", &c.ConnectTimeoutSeconds},
	}
	for _, it := range ints {
		v, ok := lookup(EnvPrefix + it.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return c, fmt.Errorf("%s%s: %w", EnvPrefix, it.key, err)
		}
		*it.dst = n
	}
	small := []struct {
		key string
		dst *int
	}{
		{"IMAGE_SIZE", &c.ImageSize},
		{"EMBED_DIM", &c.EmbedDim},
		{"MAX_TEXTS", &c.MaxTexts},
	}
	for _, it := range small {
		v, ok := lookup(EnvPrefix + it.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return c, fmt.Errorf("%s%s: %w", EnvPrefix, it.key, err)
		}
		*it.dst = n
	}
	if v, ok := lookup(EnvPrefix + "LOGIT_SCALE"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			return c, fmt.Errorf("%sLOGIT_SCALE: %w", EnvPrefix, err)
		}
		c.LogitScale = float32(f)
	}
	if v, ok := lookup(EnvPrefix + "CORS_ENABLED"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return c, fmt.Errorf("%sCORS_ENABLED: %w", EnvPrefix, err)
		}
		c.CORSEnabled = Bool(b)
	}
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.CORSOrigins = SplitList(v)
	}
	var err error
	if c.Mean, err = floatList(lookup, "MEAN"); err != nil {
		return c, err
	}
	if c.Std, err = floatList(lookup, "STD"); err != nil {
		return c, err
	}
	return c, nil
}

func floatList(lookup func(string) (string, bool), key string) ([]float32, error) {
	v, ok := lookup(EnvPrefix + key)
	if !ok {
		return nil, nil
	}
	parts := SplitList(v)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		out = append(out, float32(f))
	}
	return out, nil
}

// SplitList splits a comma separated value, trimming blanks and dropping
// empty entries.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
