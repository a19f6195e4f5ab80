package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"clipd/internal/preprocess"
)

// openaiEncoder calls an OpenAI-compatible /v1/embeddings endpoint. Images are
// sent as PNG data URIs with modality=image, the convention used by
// multimodal embedding servers such as infinity.
type openaiEncoder struct {
	client *openai.Client
	model  string
	dim    dimTracker
	hc     *http.Client
}

// NewOpenAI constructs an OpenAI-compatible encoder.
func NewOpenAI(opts Options) (Encoder, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("openai: runtime url required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model name required")
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	hc := &http.Client{Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}}
	requestOpts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/") + "/"),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(opts.APIKey) != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.RequestTimeout > 0 {
		requestOpts = append(requestOpts, option.WithRequestTimeout(opts.RequestTimeout))
	}
	client := openai.NewClient(requestOpts...)
	return &openaiEncoder{client: &client, model: opts.Model, hc: hc}, nil
}

func (e *openaiEncoder) EncodeImage(ctx context.Context, img *image.RGBA) ([]float32, error) {
	uri, err := preprocess.DataURI(img)
	if err != nil {
		return nil, err
	}
	rows, err := e.embed(ctx, []string{uri}, option.WithJSONSet("modality", "image"))
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (e *openaiEncoder) EncodeText(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrBadInput("no texts to encode")
	}
	return e.embed(ctx, texts)
}

func (e *openaiEncoder) embed(ctx context.Context, input []string, extra ...option.RequestOption) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	params.Input.OfArrayOfStrings = input
	resp, err := e.client.Embeddings.New(ctx, params, extra...)
	if err != nil {
		return nil, translateOpenAIError(ctx, err)
	}
	if len(resp.Data) != len(input) {
		return nil, ErrUpstream(fmt.Sprintf("openai: expected %d embeddings, got %d", len(input), len(resp.Data)), 0)
	}
	data := append([]openai.Embedding(nil), resp.Data...)
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	rows := make([][]float32, len(data))
	for i, d := range data {
		rows[i] = toFloat32(d.Embedding)
	}
	if err := e.dim.check(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func translateOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, "openai runtime error: "+apiErr.Error())
	}
	if isDialError(err) {
		return ErrDependencyUnavailable("openai runtime unreachable: " + err.Error())
	}
	return err
}

func (e *openaiEncoder) Info() Info {
	return Info{Backend: BackendOpenAI, Model: e.model, Dim: e.dim.get()}
}

func (e *openaiEncoder) Close() error {
	e.hc.CloseIdleConnections()
	return nil
}
