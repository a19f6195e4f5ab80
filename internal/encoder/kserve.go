package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clipd/internal/preprocess"
)

// Tensor names exchanged with the runtime.
const (
	kserveImageInput  = "pixel_values"
	kserveTextInput   = "text"
	kserveImageOutput = "image_embeds"
	kserveTextOutput  = "text_embeds"
)

// kserveEncoder talks to a model runtime implementing the KServe v2 REST
// protocol (Triton, KServe, MLServer). Images are sent as FP32 tensors,
// texts as a BYTES tensor; tokenization happens in the runtime.
type kserveEncoder struct {
	baseURL    string
	model      string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
	transform  preprocess.Transform
	dim        dimTracker
}

// NewKServe constructs a KServe v2 backed encoder.
func NewKServe(opts Options) (Encoder, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("kserve: runtime url required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("kserve: model name required")
	}
	if err := opts.Transform.Validate(); err != nil {
		return nil, fmt.Errorf("kserve: %w", err)
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every call carries a context deadline instead.
	cli := &http.Client{Transport: tr, Timeout: 0}
	return &kserveEncoder{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		apiKey:     opts.APIKey,
		reqTimeout: opts.RequestTimeout,
		httpClient: cli,
		transform:  opts.Transform,
	}, nil
}

type kserveTensor struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	Datatype string `json:"datatype"`
	Data     any    `json:"data"`
}

type kserveOutputSpec struct {
	Name string `json:"name"`
}

type kserveRequest struct {
	Inputs  []kserveTensor     `json:"inputs"`
	Outputs []kserveOutputSpec `json:"outputs,omitempty"`
}

type kserveOutput struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float64 `json:"data"`
}

type kserveResponse struct {
	ModelName string         `json:"model_name"`
	Outputs   []kserveOutput `json:"outputs"`
	Error     string         `json:"error,omitempty"`
}

func (e *kserveEncoder) EncodeImage(ctx context.Context, img *image.RGBA) ([]float32, error) {
	t := e.transform.ToTensor(img)
	shape := append([]int{1}, t.Shape...)
	rows, err := e.infer(ctx, kserveTensor{Name: kserveImageInput, Shape: shape, Datatype: "FP32", Data: t.Data}, kserveImageOutput)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, ErrUpstream(fmt.Sprintf("kserve: expected 1 image embedding, got %d", len(rows)), 0)
	}
	return rows[0], nil
}

func (e *kserveEncoder) EncodeText(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrBadInput("no texts to encode")
	}
	rows, err := e.infer(ctx, kserveTensor{Name: kserveTextInput, Shape: []int{len(texts)}, Datatype: "BYTES", Data: texts}, kserveTextOutput)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(texts) {
		return nil, ErrUpstream(fmt.Sprintf("kserve: expected %d text embeddings, got %d", len(texts), len(rows)), 0)
	}
	return rows, nil
}

func (e *kserveEncoder) Info() Info {
	return Info{Backend: BackendKServe, Model: e.model, Dim: e.dim.get()}
}

func (e *kserveEncoder) Close() error {
	if tr, ok := e.httpClient.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
	return nil
}

func (e *kserveEncoder) infer(ctx context.Context, in kserveTensor, output string) ([][]float32, error) {
	if e.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.reqTimeout)
		defer cancel()
	}
	body, err := json.Marshal(kserveRequest{Inputs: []kserveTensor{in}, Outputs: []kserveOutputSpec{{Name: output}}})
	if err != nil {
		return nil, fmt.Errorf("kserve: encode request: %w", err)
	}
	endpoint := e.baseURL + "/v2/models/" + url.PathEscape(e.model) + "/infer"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isDialError(err) {
			return nil, ErrDependencyUnavailable("kserve runtime unreachable: " + err.Error())
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, "kserve http error: "+resp.Status+": "+strings.TrimSpace(string(b)))
	}
	var out kserveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ErrUpstream("kserve: decode response: "+err.Error(), resp.StatusCode)
	}
	if out.Error != "" {
		return nil, ErrUpstream("kserve: "+out.Error, resp.StatusCode)
	}
	rows, err := kserveRows(out, output)
	if err != nil {
		return nil, err
	}
	if err := e.dim.check(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// kserveRows reshapes the named [N, D] output into N rows.
func kserveRows(resp kserveResponse, name string) ([][]float32, error) {
	var o *kserveOutput
	for i := range resp.Outputs {
		if resp.Outputs[i].Name == name {
			o = &resp.Outputs[i]
			break
		}
	}
	if o == nil {
		if len(resp.Outputs) != 1 {
			return nil, ErrUpstream("kserve: output "+name+" missing", 0)
		}
		o = &resp.Outputs[0]
	}
	var n, d int
	switch len(o.Shape) {
	case 1:
		n, d = 1, o.Shape[0]
	case 2:
		n, d = o.Shape[0], o.Shape[1]
	default:
		return nil, ErrUpstream(fmt.Sprintf("kserve: unexpected output shape %v", o.Shape), 0)
	}
	// Division instead of n*d: runtime-supplied dims must not overflow.
	if n <= 0 || d <= 0 || len(o.Data)%n != 0 || len(o.Data)/n != d {
		return nil, ErrUpstream(fmt.Sprintf("kserve: shape %v does not match %d values", o.Shape, len(o.Data)), 0)
	}
	rows := make([][]float32, n)
	for i := 0; i < n; i++ {
		rows[i] = toFloat32(o.Data[i*d : (i+1)*d])
	}
	return rows, nil
}
