package types

// EncodeTextRequest is the JSON body of POST /encode_text/ and the JSON
// carried in the text_input form field of POST /compute_similarity/.
type EncodeTextRequest struct {
	// Texts to embed, in order. Must not be empty.
	// example: ["a red dress","blue jeans"]
	TextList []string `json:"text_list" example:"a red dress,blue jeans"`
}

// FeaturesResponse carries L2-normalized embeddings, one row per input.
// The image endpoint always returns a single row.
type FeaturesResponse struct {
	// Unit-length feature vectors.
	Features [][]float32 `json:"features"`
}

// SimilarityResponse is returned by POST /compute_similarity/.
type SimilarityResponse struct {
	// Softmax probabilities over the labels; they sum to 1.
	// example: [0.91,0.09]
	Probabilities []float32 `json:"probabilities"`
	// Labels in the same order as the submitted text_list.
	// example: ["a red dress","blue jeans"]
	Labels []string `json:"labels"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid image
	Error string `json:"error" example:"invalid image"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
