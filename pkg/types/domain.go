package types

// ModelInfo describes the model served by this process, returned by GET /model.
type ModelInfo struct {
	// Model identifier as known to the runtime.
	// example: hf-hub:Marqo/marqo-fashionSigLIP
	Model string `json:"model" example:"hf-hub:Marqo/marqo-fashionSigLIP"`
	// Encoder backend in use (openai, kserve, bedrock, stub).
	// example: kserve
	Backend string `json:"backend" example:"kserve"`
	// Embedding dimension; 0 until the first successful call when the backend cannot report it.
	// example: 768
	Dim int `json:"dim" example:"768"`
	// Square input resolution fed to the image tower.
	// example: 224
	ImageSize int `json:"image_size" example:"224"`
	// Multiplier applied to cosine similarities before softmax.
	// example: 100
	LogitScale float32 `json:"logit_scale" example:"100"`
	// Lifecycle state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last warmup error, if any.
	LastError string `json:"last_error,omitempty"`
}
