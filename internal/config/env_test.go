package config

import (
	"reflect"
	"testing"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{
		"CLIPD_ADDR":                  ":9000",
		"CLIPD_BACKEND":               " kserve ",
		"CLIPD_RUNTIME_URL":           "http://triton:8000",
		"CLIPD_IMAGE_SIZE":            "384",
		"CLIPD_MAX_UPLOAD_BYTES":      "1024",
		"CLIPD_MAX_IMAGE_PIXELS":      "4096",
		"CLIPD_INFER_TIMEOUT_SECONDS": "",
		"CLIPD_LOGIT_SCALE":           "10.5",
		"CLIPD_CORS_ENABLED":          "true",
		"CLIPD_CORS_ORIGINS":          "http://a, ,http://b",
		"CLIPD_MEAN":                  "0.1,0.2,0.3",
	}))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.Backend != "kserve" || cfg.RuntimeURL != "http://triton:8000" {
		t.Fatalf("strings: %+v", cfg)
	}
	if cfg.ImageSize != 384 || cfg.MaxUploadBytes != 1024 || cfg.MaxImagePixels != 4096 || cfg.InferTimeoutSeconds != 0 {
		t.Fatalf("ints: %+v", cfg)
	}
	if cfg.LogitScale != 10.5 || !cfg.CORS() {
		t.Fatalf("scale/cors: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"http://a", "http://b"}) {
		t.Fatalf("origins: %v", cfg.CORSOrigins)
	}
	if len(cfg.Mean) != 3 || cfg.Mean[1] != float32(0.2) || cfg.Std != nil {
		t.Fatalf("mean/std: %v %v", cfg.Mean, cfg.Std)
	}
}

func TestFromEnvErrors(t *testing.T) {
	for _, kv := range [][2]string{
		{"CLIPD_IMAGE_SIZE", "big"},
		{"CLIPD_MAX_BODY_BYTES", "1MiB"},
		{"CLIPD_LOGIT_SCALE", "x"},
		{"CLIPD_CORS_ENABLED", "maybe"},
		{"CLIPD_STD", "0.5,nope,0.5"},
	} {
		if _, err := FromEnv(mapLookup(map[string]string{kv[0]: kv[1]})); err == nil {
			t.Fatalf("%s=%q: expected error", kv[0], kv[1])
		}
	}
}

func TestSplitList(t *testing.T) {
	if got := SplitList("  "); got != nil {
		t.Fatalf("blank: %v", got)
	}
	if got := SplitList("a,,b , c"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("got %v", got)
	}
}

func TestCORSPrecedenceBothWays(t *testing.T) {
	file := Config{CORSEnabled: Bool(true)}
	off, err := FromEnv(mapLookup(map[string]string{"CLIPD_CORS_ENABLED": "false"}))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if got := Defaults().Merge(file).Merge(off); got.CORS() {
		t.Fatalf("env false should override file true")
	}
	on, err := FromEnv(mapLookup(map[string]string{"CLIPD_CORS_ENABLED": "1"}))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if got := Defaults().Merge(Config{CORSEnabled: Bool(false)}).Merge(on); !got.CORS() {
		t.Fatalf("env true should override file false")
	}
	// Unset leaves the earlier value alone.
	unset, _ := FromEnv(mapLookup(nil))
	if got := Defaults().Merge(Config{CORSEnabled: Bool(false)}).Merge(unset); got.CORS() {
		t.Fatalf("unset env must not re-enable cors")
	}
}
