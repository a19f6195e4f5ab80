package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clipd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	EncodeImage(ctx context.Context, image []byte) ([][]float32, error)
	EncodeText(ctx context.Context, texts []string) ([][]float32, error)
	ComputeSimilarity(ctx context.Context, image []byte, texts []string) (types.SimilarityResponse, error)
	Info() types.ModelInfo
	Ready() bool
}

// fieldError marks request schema violations (422).
type fieldError struct{ msg string }

func (e fieldError) Error() string   { return e.msg }
func (e fieldError) StatusCode() int { return http.StatusUnprocessableEntity }

// badRequest marks unparseable input (400).
type badRequest struct{ msg string }

func (e badRequest) Error() string   { return e.msg }
func (e badRequest) StatusCode() int { return http.StatusBadRequest }

// unavailable is a 503 raised by the HTTP layer itself.
type unavailable struct{ msg string }

func (e unavailable) Error() string   { return e.msg }
func (e unavailable) StatusCode() int { return http.StatusServiceUnavailable }

type handlers struct{ svc Service }

// allMethods stands in for a "*" method list, which go-chi/cors does not expand.
var allMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

func NewMux(svc Service) http.Handler {
	h := handlers{svc: svc}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   orDefault(corsAllowedOrigins, []string{"http://localhost:5173"}),
			AllowedMethods:   orDefault(corsAllowedMethods, allMethods),
			AllowedHeaders:   orDefault(corsAllowedHeaders, []string{"*"}),
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.Compress(5, "application/json"))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	for _, p := range []string{"/encode_image/", "/encode_image"} {
		r.Post(p, h.encodeImage)
	}
	for _, p := range []string{"/encode_text/", "/encode_text"} {
		r.Post(p, h.encodeText)
	}
	for _, p := range []string{"/compute_similarity/", "/compute_similarity"} {
		r.Post(p, h.computeSimilarity)
	}

	r.Get("/model", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Info())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// encodeImage godoc
//
//	@Summary	Embed an image
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		file	formData	file	true	"Image (JPEG, PNG, GIF, WebP, BMP, TIFF)"
//	@Success	200		{object}	types.FeaturesResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Failure	413		{object}	types.ErrorResponse
//	@Failure	503		{object}	types.ErrorResponse
//	@Router		/encode_image/ [post]
func (h handlers) encodeImage(w http.ResponseWriter, r *http.Request) {
	start, lvl := time.Now(), requestLogLevel(r)
	img, err := readUpload(w, r)
	if err != nil {
		h.fail(w, r, lvl, start, err)
		return
	}
	logStart(r, lvl, map[string]any{"image_bytes": len(img)})
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	features, err := h.svc.EncodeImage(ctx, img)
	if err != nil {
		h.fail(w, r, lvl, start, err)
		return
	}
	writeJSON(w, types.FeaturesResponse{Features: features})
	logEnd(r, lvl, http.StatusOK, start, nil)
}

// encodeText godoc
//
//	@Summary	Embed a list of texts
//	@Accept		json
//	@Produce	json
//	@Param		body	body		types.EncodeTextRequest	true	"Texts"
//	@Success	200		{object}	types.FeaturesResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Failure	415		{object}	types.ErrorResponse
//	@Failure	422		{object}	types.ErrorResponse
//	@Router		/encode_text/ [post]
func (h handlers) encodeText(w http.ResponseWriter, r *http.Request) {
	start, lvl := time.Now(), requestLogLevel(r)
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, r, lvl, start, err)
		return
	}
	req, err := parseTextInput(body)
	if err != nil {
		h.fail(w, r, lvl, start, err)
		return
	}
	logStart(r, lvl, map[string]any{"texts": len(req.TextList)})
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	features, err := h.svc.EncodeText(ctx, req.TextList)
	if err != nil {
		h.fail(w, r, lvl, start, err)
		return
	}
	writeJSON(w, types.FeaturesResponse{Features: features})
	logEnd(r, lvl, http.StatusOK, start, nil)
}

// computeSimilarity godoc
//
//	@Summary	Score labels against an image
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		file		formData	file	true	"Image"
//	@Param		text_input	formData	string	true	"JSON object {\"text_list\": [...]}"
//	@Success	200			{object}	types.SimilarityResponse
//	@Failure	400			{object}	types.ErrorResponse
//	@Failure	422			{object}	types.ErrorResponse
//	@Router		/compute_similarity/ [post]
func (h handlers) computeSimilarity(w http.ResponseWriter, r *http.Request) {
	start, lvl := time.Now(), requestLogLevel(r)
	img, err := readUpload(w, r)
	if err != nil {
		h.fail(w, r, lvl, start, err)
		return
	}
	raw, ok := r.MultipartForm.Value["text_input"]
	if !ok || len(raw) == 0 {
		h.fail(w, r, lvl, start, fieldError{"text_input is required"})
		return
	}
	req, err := parseTextInput([]byte(raw[0]))
	if err != nil {
		h.fail(w, r, lvl, start, err)
		return
	}
	logStart(r, lvl, map[string]any{"image_bytes": len(img), "texts": len(req.TextList)})
	ctx, cancel := requestContext(r.Context())
	defer cancel()
	resp, err := h.svc.ComputeSimilarity(ctx, img, req.TextList)
	if err != nil {
		h.fail(w, r, lvl, start, err)
		return
	}
	writeJSON(w, resp)
	logEnd(r, lvl, http.StatusOK, start, nil)
}

// fail writes the error response unless the client already went away.
// Inference canceled by shutdown is reported as 503.
func (h handlers) fail(w http.ResponseWriter, r *http.Request, lvl LogLevel, start time.Time, err error) {
	if clientGone(r.Context()) {
		return
	}
	if shuttingDown() && errors.Is(err, context.Canceled) {
		err = unavailable{"server shutting down"}
	}
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusRequestEntityTooLarge {
		msg = "request body too large"
	}
	writeJSONError(w, status, msg)
	logEnd(r, lvl, status, start, err)
}

// readUpload parses the multipart form and returns the bytes of the "file" part.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, &http.MaxBytesError{Limit: maxUploadBytes}
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, badRequest{"request must be multipart/form-data"}
		}
		return nil, badRequest{"invalid multipart form: " + err.Error()}
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, fieldError{"file is required"}
		}
		return nil, badRequest{err.Error()}
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, badRequest{"read upload: " + err.Error()}
	}
	uploadBytes.Observe(float64(len(data)))
	return data, nil
}

// parseTextInput decodes {"text_list": [...]}. Unparseable JSON is a 400,
// a missing or mistyped text_list a 422.
func parseTextInput(b []byte) (types.EncodeTextRequest, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return types.EncodeTextRequest{}, badRequest{"invalid JSON body"}
	}
	raw, ok := probe["text_list"]
	if !ok || string(raw) == "null" {
		return types.EncodeTextRequest{}, fieldError{"text_list is required"}
	}
	// Pointers expose null entries, which a plain []string would turn into "".
	var items []*string
	if err := json.Unmarshal(raw, &items); err != nil {
		return types.EncodeTextRequest{}, fieldError{"text_list must be a list of strings"}
	}
	req := types.EncodeTextRequest{TextList: make([]string, len(items))}
	for i, s := range items {
		if s == nil {
			return types.EncodeTextRequest{}, fieldError{fmt.Sprintf("text_list[%d] must be a string, got null", i)}
		}
		req.TextList[i] = *s
	}
	return req, nil
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
