// Package models defines the JSON shapes exchanged by the server, the client
// and the sidecar writer.
package models

// EmbeddingResponse is returned for a successful encode.
type EmbeddingResponse struct {
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
	Device     string    `json:"device"`
	ContentID  string    `json:"content_id"`
	Cached     bool      `json:"cached"`
	// DurationMs is the server-side encode time.
	DurationMs int64  `json:"duration_ms"`
	RequestID  string `json:"request_id,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody with the request it belongs to.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// ModelInfo describes the loaded model.
type ModelInfo struct {
	ID         string     `json:"id"`
	Backend    string     `json:"backend"`
	Dimensions int        `json:"dimensions"`
	Device     string     `json:"device"`
	ImageSize  int        `json:"image_size"`
	CropSize   int        `json:"crop_size"`
	Mean       [3]float32 `json:"mean"`
	Std        [3]float32 `json:"std"`
	Normalize  bool       `json:"normalize"`
}

// Sidecar is written next to an image in watch mode.
type Sidecar struct {
	Source     string    `json:"source"`
	ContentID  string    `json:"content_id"`
	Model      string    `json:"model"`
	Device     string    `json:"device"`
	Dimensions int       `json:"dimensions"`
	Vector     []float32 `json:"vector"`
	// CreatedAt is RFC 3339.
	CreatedAt string `json:"created_at"`
}
