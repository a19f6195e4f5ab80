package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"clipd/pkg/types"
)

type mockService struct {
	ready    bool
	info     types.ModelInfo
	err      error
	gotImage []byte
	gotTexts []string
}

func (m *mockService) EncodeImage(ctx context.Context, image []byte) ([][]float32, error) {
	m.gotImage = image
	if m.err != nil { return nil, m.err }
	return [][]float32{{0.6, 0.8}}, nil
}

func (m *mockService) EncodeText(ctx context.Context, texts []string) ([][]float32, error) {
	m.gotTexts = texts
	if m.err != nil { return nil, m.err }
	out := make([][]float32, len(texts))
	for i := range texts { out[i] = []float32{1, 0} }
	return out, nil
}

func (m *mockService) ComputeSimilarity(ctx context.Context, image []byte, texts []string) (types.SimilarityResponse, error) {
	m.gotImage, m.gotTexts = image, texts
	if m.err != nil { return types.SimilarityResponse{}, m.err }
	p := make([]float32, len(texts))
	for i := range p { p[i] = 1 / float32(len(texts)) }
	return types.SimilarityResponse{Probabilities: p, Labels: texts}, nil
}

func (m *mockService) Info() types.ModelInfo { return m.info }
func (m *mockService) Ready() bool          { return m.ready }

type mockHTTPError struct{ msg string; code int }
func (e mockHTTPError) Error() string { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

// multipartBody builds a form with an optional file part and extra fields.
func multipartBody(t *testing.T, file []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "img.png")
		if err != nil { t.Fatal(err) }
		_, _ = fw.Write(file)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil { t.Fatal(err) }
	return &buf, mw.FormDataContentType()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestEncodeImage(t *testing.T) {
	svc := &mockService{}
	body, ct := multipartBody(t, []byte("img-bytes"), nil)
	for _, path := range []string{"/encode_image/", "/encode_image"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body.Bytes()))
		req.Header.Set("Content-Type", ct)
		w := serve(NewMux(svc), req)
		if w.Code != http.StatusOK { t.Fatalf("%s: status=%d body=%s", path, w.Code, w.Body.String()) }
		var resp types.FeaturesResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil { t.Fatalf("json: %v", err) }
		if len(resp.Features) != 1 || resp.Features[0][1] != 0.8 { t.Fatalf("resp=%+v", resp) }
		if string(svc.gotImage) != "img-bytes" { t.Fatalf("image=%q", svc.gotImage) }
	}
}

func TestEncodeImageMissingFile(t *testing.T) {
	body, ct := multipartBody(t, nil, map[string]string{"other": "x"})
	req := httptest.NewRequest(http.MethodPost, "/encode_image/", body)
	req.Header.Set("Content-Type", ct)
	if w := serve(NewMux(&mockService{}), req); w.Code != http.StatusUnprocessableEntity { t.Fatalf("status=%d", w.Code) }
}

func TestEncodeImageNotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/encode_image/", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "image/png")
	if w := serve(NewMux(&mockService{}), req); w.Code != http.StatusBadRequest { t.Fatalf("status=%d", w.Code) }
}

func TestEncodeImageTooLarge(t *testing.T) {
	SetMaxUploadBytes(1024)
	defer SetMaxUploadBytes(0)
	body, ct := multipartBody(t, bytes.Repeat([]byte("a"), 4096), nil)
	req := httptest.NewRequest(http.MethodPost, "/encode_image/", body)
	req.Header.Set("Content-Type", ct)
	w := serve(NewMux(&mockService{}), req)
	if w.Code != http.StatusRequestEntityTooLarge { t.Fatalf("status=%d body=%s", w.Code, w.Body.String()) }
}

func TestEncodeText(t *testing.T) {
	svc := &mockService{}
	req := httptest.NewRequest(http.MethodPost, "/encode_text/", strings.NewReader(`{"text_list":["a","b"],"extra":1}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w := serve(NewMux(svc), req)
	if w.Code != http.StatusOK { t.Fatalf("status=%d body=%s", w.Code, w.Body.String()) }
	var resp types.FeaturesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil { t.Fatal(err) }
	if len(resp.Features) != 2 || len(svc.gotTexts) != 2 || svc.gotTexts[1] != "b" { t.Fatalf("resp=%+v texts=%v", resp, svc.gotTexts) }
}

func TestEncodeTextBadInput(t *testing.T) {
	cases := []struct{ name, body, ct string; want int }{
		{"not json", "not-json", "application/json", http.StatusBadRequest},
		{"missing list", `{"texts":["a"]}`, "application/json", http.StatusUnprocessableEntity},
		{"null list", `{"text_list":null}`, "application/json", http.StatusUnprocessableEntity},
		{"wrong type", `{"text_list":"a"}`, "application/json", http.StatusUnprocessableEntity},
		{"null entry", `{"text_list":["a",null]}`, "application/json", http.StatusUnprocessableEntity},
		{"number entry", `{"text_list":["a",1]}`, "application/json", http.StatusUnprocessableEntity},
		{"wrong media", `{"text_list":["a"]}`, "text/plain", http.StatusUnsupportedMediaType},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/encode_text/", strings.NewReader(c.body))
		req.Header.Set("Content-Type", c.ct)
		w := serve(NewMux(&mockService{}), req)
		if w.Code != c.want { t.Fatalf("%s: status=%d want %d", c.name, w.Code, c.want) }
		var e types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e.Code != c.want || e.Error == "" { t.Fatalf("%s: error body %q", c.name, w.Body.String()) }
	}
}

func TestEncodeTextBodyTooLarge(t *testing.T) {
	big := `{"text_list":["` + strings.Repeat("a", (1<<20)+10) + `"]}`
	req := httptest.NewRequest(http.MethodPost, "/encode_text/", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	if w := serve(NewMux(&mockService{}), req); w.Code != http.StatusRequestEntityTooLarge { t.Fatalf("status=%d", w.Code) }
}

func TestComputeSimilarity(t *testing.T) {
	svc := &mockService{}
	body, ct := multipartBody(t, []byte("img"), map[string]string{"text_input": `{"text_list":["dress","shoe"]}`})
	req := httptest.NewRequest(http.MethodPost, "/compute_similarity/", body)
	req.Header.Set("Content-Type", ct)
	w := serve(NewMux(svc), req)
	if w.Code != http.StatusOK { t.Fatalf("status=%d body=%s", w.Code, w.Body.String()) }
	var resp types.SimilarityResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil { t.Fatal(err) }
	if len(resp.Labels) != 2 || resp.Labels[0] != "dress" || len(resp.Probabilities) != 2 { t.Fatalf("resp=%+v", resp) }
}

func TestComputeSimilarityBadTextInput(t *testing.T) {
	cases := []struct{ name string; fields map[string]string; want int }{
		{"missing", map[string]string{}, http.StatusUnprocessableEntity},
		{"not json", map[string]string{"text_input": "{oops"}, http.StatusBadRequest},
		{"no list", map[string]string{"text_input": `{}`}, http.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		body, ct := multipartBody(t, []byte("img"), c.fields)
		req := httptest.NewRequest(http.MethodPost, "/compute_similarity/", body)
		req.Header.Set("Content-Type", ct)
		if w := serve(NewMux(&mockService{}), req); w.Code != c.want { t.Fatalf("%s: status=%d want %d", c.name, w.Code, c.want) }
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct{ err error; want int }{
		{mockHTTPError{msg: "invalid image", code: http.StatusBadRequest}, http.StatusBadRequest},
		{mockHTTPError{msg: "runtime down", code: http.StatusServiceUnavailable}, http.StatusServiceUnavailable},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/encode_text/", strings.NewReader(`{"text_list":["a"]}`))
		req.Header.Set("Content-Type", "application/json")
		w := serve(NewMux(&mockService{err: c.err}), req)
		if w.Code != c.want { t.Fatalf("%v: status=%d want %d", c.err, w.Code, c.want) }
		if !strings.Contains(w.Body.String(), c.err.Error()) { t.Fatalf("body=%s", w.Body.String()) }
	}
}

func TestModelInfo(t *testing.T) {
	svc := &mockService{info: types.ModelInfo{Model: "m", Backend: "stub", Dim: 768, State: "ready"}}
	w := serve(NewMux(svc), httptest.NewRequest(http.MethodGet, "/model", nil))
	if w.Code != http.StatusOK { t.Fatalf("status=%d", w.Code) }
	var info types.ModelInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil { t.Fatal(err) }
	if info.Dim != 768 || info.Backend != "stub" { t.Fatalf("info=%+v", info) }
}

func TestReadyz(t *testing.T) {
	w := serve(NewMux(&mockService{ready: true}), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK { t.Fatalf("status=%d", w.Code) }
}

func TestReadyz_NotReady(t *testing.T) {
	w := serve(NewMux(&mockService{ready: false}), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable { t.Fatalf("status=%d", w.Code) }
	if !strings.Contains(w.Body.String(), "loading") { t.Fatalf("body=%q", w.Body.String()) }
}

func TestHealthz(t *testing.T) {
	w := serve(NewMux(&mockService{}), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK { t.Fatalf("status=%d", w.Code) }
	if w.Header().Get("X-Content-Type-Options") != "nosniff" { t.Fatal("missing nosniff header") }
}

func TestCORSPreflight(t *testing.T) {
	SetCORSOptions(true, nil, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/encode_text/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := serve(NewMux(&mockService{}), req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" { t.Fatalf("allow-origin=%q", got) }
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" { t.Fatal("credentials not allowed") }

	// Any method and any header are allowed by default.
	req = httptest.NewRequest(http.MethodOptions, "/encode_text/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	req.Header.Set("Access-Control-Request-Headers", "X-Custom-Thing")
	w = serve(NewMux(&mockService{}), req)
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "DELETE" { t.Fatalf("allow-methods=%q", got) }
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" { t.Fatal("preflight for DELETE rejected") }
}

// blockingService holds EncodeText until its context ends.
type blockingService struct {
	mockService
	started chan struct{}
}

func (b *blockingService) EncodeText(ctx context.Context, texts []string) ([][]float32, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestShutdownDuringInferenceReturns503(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)
	svc := &blockingService{started: make(chan struct{})}
	go func() {
		<-svc.started
		cancelBase()
	}()
	req := httptest.NewRequest(http.MethodPost, "/encode_text/", strings.NewReader(`{"text_list":["a"]}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(NewMux(svc), req)
	if w.Code != http.StatusServiceUnavailable { t.Fatalf("status=%d body=%q", w.Code, w.Body.String()) }
	var e types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil { t.Fatalf("decode: %v", err) }
	if e.Code != http.StatusServiceUnavailable || e.Error != "server shutting down" { t.Fatalf("body=%+v", e) }
}

func TestCanceledRequestWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/encode_text/", strings.NewReader(`{"text_list":["a"]}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := serve(NewMux(&mockService{err: context.Canceled}), req)
	if w.Body.Len() != 0 { t.Fatalf("body=%q", w.Body.String()) }
}
