package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

type fakeInvoker struct {
	bodies []titanMultimodalRequest
	models []string
	resp   func(n int) []byte
	err    error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if f.err != nil { return nil, f.err }
	var body titanMultimodalRequest
	_ = json.Unmarshal(in.Body, &body)
	f.bodies = append(f.bodies, body)
	f.models = append(f.models, *in.ModelId)
	return &bedrockruntime.InvokeModelOutput{Body: f.resp(len(f.bodies))}, nil
}

func titanBody(v ...float64) []byte {
	b, _ := json.Marshal(map[string]any{"embedding": v, "inputTextTokenCount": 1})
	return b
}

func TestBedrock_TextOnePerCall(t *testing.T) {
	inv := &fakeInvoker{resp: func(n int) []byte { return titanBody(float64(n), 0) }}
	enc, err := newBedrockWithClient(inv, "", 256)
	if err != nil { t.Fatal(err) }
	rows, err := enc.EncodeText(context.Background(), []string{"red dress", "jeans"})
	if err != nil { t.Fatal(err) }
	if len(rows) != 2 || rows[0][0] != 1 || rows[1][0] != 2 { t.Fatalf("rows=%v", rows) }
	if len(inv.bodies) != 2 || inv.bodies[1].InputText != "jeans" { t.Fatalf("bodies=%+v", inv.bodies) }
	if inv.bodies[0].EmbeddingConfig == nil || inv.bodies[0].EmbeddingConfig.OutputEmbeddingLength != 256 { t.Fatalf("config=%+v", inv.bodies[0].EmbeddingConfig) }
	if inv.models[0] != DefaultBedrockModel { t.Fatalf("model=%s", inv.models[0]) }
}

func TestBedrock_ImageBase64(t *testing.T) {
	inv := &fakeInvoker{resp: func(int) []byte { return titanBody(1, 2, 3) }}
	enc, _ := newBedrockWithClient(inv, "amazon.titan-embed-image-v1", 0)
	v, err := enc.EncodeImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	if err != nil { t.Fatal(err) }
	if len(v) != 3 { t.Fatalf("v=%v", v) }
	if inv.bodies[0].InputImage == "" || inv.bodies[0].InputText != "" || inv.bodies[0].EmbeddingConfig != nil { t.Fatalf("body=%+v", inv.bodies[0]) }
}

func TestBedrock_Errors(t *testing.T) {
	enc, _ := newBedrockWithClient(&fakeInvoker{err: errors.New("throttled")}, "", 0)
	if _, err := enc.EncodeText(context.Background(), []string{"a"}); !IsUpstream(err) { t.Fatalf("err=%v", err) }
	if _, err := enc.EncodeText(context.Background(), []string{" "}); !IsBadInput(err) { t.Fatalf("err=%v", err) }
	if _, err := newBedrockWithClient(nil, "", 100); err == nil { t.Fatal("expected dim error") }
	if _, err := parseTitanMultimodal([]byte(`{"message":"bad image"}`)); !IsUpstream(err) { t.Fatalf("err=%v", err) }
}
