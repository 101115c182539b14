package inference

// Request holds one generation call. Zero-value fields fall back to the
// client's configured defaults.
type Request struct {
	Prompt            string
	MaxTokens         int
	Temperature       *float64
	TopP              *float64
	TopK              *int
	RepetitionPenalty *float64
	StopSequences     []string
}

// Result is the outcome of a generation call.
type Result struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	StopReason   string `json:"stop_reason"`
	ModelID      string `json:"model_id"`
}

// Usage is a snapshot of the process-wide token counters.
type Usage struct {
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalTokens       int     `json:"total_tokens"`
	TotalRequests     int     `json:"total_requests"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
}

// HealthStatus reports the outcome of a minimal generation probe.
type HealthStatus struct {
	Status         string `json:"status"`
	ModelID        string `json:"model_id"`
	TestGeneration string `json:"test_generation,omitempty"`
	Error          string `json:"error,omitempty"`
	Usage          Usage  `json:"token_usage"`
}

// Wire format of the generation service.

type generateRequest struct {
	ModelID    string         `json:"model_id"`
	Input      string         `json:"input"`
	Parameters generateParams `json:"parameters"`
}

type generateParams struct {
	MaxNewTokens      int      `json:"max_new_tokens"`
	Temperature       float64  `json:"temperature"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	StopSequences     []string `json:"stop_sequences,omitempty"`
}

type generateResponse struct {
	Results []struct {
		GeneratedText       string `json:"generated_text"`
		InputTokenCount     int    `json:"input_token_count"`
		GeneratedTokenCount int    `json:"generated_token_count"`
		StopReason          string `json:"stop_reason"`
	} `json:"results"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
