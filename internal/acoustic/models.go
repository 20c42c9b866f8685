package acoustic

// LabelsResponse describes the model's output classes, in output order.
type LabelsResponse struct {
	Labels       []string `json:"labels"`
	FrameSeconds float64  `json:"frame_seconds"`
}

// DecodeRequest carries 16 kHz mono samples in [-1, 1].
type DecodeRequest struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
}

// DecodeResponse holds log-softmax outputs, one row per frame. Text may be
// empty, in which case the client decodes it greedily.
type DecodeResponse struct {
	LogProbs [][]float64 `json:"log_probs"`
	Text     string      `json:"text,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
