package encoder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"clipd/internal/preprocess"
)

// DefaultBedrockModel is Titan Multimodal Embeddings G1.
const DefaultBedrockModel = "amazon.titan-embed-image-v1"

// bedrockInvoker is the subset of the bedrockruntime client used here.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// bedrockEncoder embeds through Amazon Bedrock. Titan accepts one text or one
// image per call, so texts are sent sequentially.
type bedrockEncoder struct {
	client  bedrockInvoker
	modelID string
	outDim  int
	dim     dimTracker
}

type titanMultimodalRequest struct {
	InputText       string                `json:"inputText,omitempty"`
	InputImage      string                `json:"inputImage,omitempty"`
	EmbeddingConfig *titanEmbeddingConfig `json:"embeddingConfig,omitempty"`
}

type titanEmbeddingConfig struct {
	OutputEmbeddingLength int `json:"outputEmbeddingLength"`
}

type titanMultimodalResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
	Message             *string   `json:"message"`
}

// NewBedrock loads AWS configuration and constructs a Bedrock encoder.
func NewBedrock(ctx context.Context, opts Options) (Encoder, error) {
	if opts.AWSRegion == "" {
		return nil, errors.New("bedrock: region required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.AWSRegion)}
	if opts.AWSProfile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.AWSProfile))
	}
	if opts.AWSAccessKeyID != "" && opts.AWSSecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(opts.AWSAccessKeyID, opts.AWSSecretAccessKey, opts.AWSSessionToken)
		loadOpts = append(loadOpts, config.WithCredentialsProvider(static))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, ErrDependencyUnavailable("bedrock: load aws config: " + err.Error())
	}
	var clientOpts []func(*bedrockruntime.Options)
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) { o.BaseEndpoint = aws.String(opts.BaseURL) })
	}
	return newBedrockWithClient(bedrockruntime.NewFromConfig(awsCfg, clientOpts...), opts.Model, opts.Dim)
}

func newBedrockWithClient(client bedrockInvoker, modelID string, dim int) (*bedrockEncoder, error) {
	if modelID == "" || strings.HasPrefix(modelID, "hf-hub:") {
		modelID = DefaultBedrockModel
	}
	switch dim {
	case 0, 256, 384, 1024:
	default:
		return nil, fmt.Errorf("bedrock: output dim must be 256, 384 or 1024, got %d", dim)
	}
	return &bedrockEncoder{client: client, modelID: modelID, outDim: dim}, nil
}

func (e *bedrockEncoder) EncodeImage(ctx context.Context, img *image.RGBA) ([]float32, error) {
	b, err := preprocess.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	v, err := e.invoke(ctx, titanMultimodalRequest{InputImage: base64.StdEncoding.EncodeToString(b)})
	if err != nil {
		return nil, err
	}
	if err := e.dim.check([][]float32{v}); err != nil {
		return nil, err
	}
	return v, nil
}

func (e *bedrockEncoder) EncodeText(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrBadInput("no texts to encode")
	}
	rows := make([][]float32, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrBadInput(fmt.Sprintf("text %d is empty", i))
		}
		v, err := e.invoke(ctx, titanMultimodalRequest{InputText: t})
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		rows = append(rows, v)
	}
	if err := e.dim.check(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *bedrockEncoder) invoke(ctx context.Context, body titanMultimodalRequest) ([]float32, error) {
	if e.outDim > 0 {
		body.EmbeddingConfig = &titanEmbeddingConfig{OutputEmbeddingLength: e.outDim}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode titan request: %w", err)
	}
	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		Body:        raw,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isDialError(err) {
			return nil, ErrDependencyUnavailable("bedrock unreachable: " + err.Error())
		}
		return nil, ErrUpstream("bedrock: "+err.Error(), 0)
	}
	return parseTitanMultimodal(out.Body)
}

func parseTitanMultimodal(payload []byte) ([]float32, error) {
	var resp titanMultimodalResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, ErrUpstream("decode titan response: "+err.Error(), 0)
	}
	if resp.Message != nil && *resp.Message != "" {
		return nil, ErrUpstream("titan: "+*resp.Message, 0)
	}
	if len(resp.Embedding) == 0 {
		return nil, ErrUpstream("titan response missing embedding", 0)
	}
	return toFloat32(resp.Embedding), nil
}

func (e *bedrockEncoder) Info() Info {
	return Info{Backend: BackendBedrock, Model: e.modelID, Dim: e.dim.get()}
}

func (e *bedrockEncoder) Close() error { return nil }
