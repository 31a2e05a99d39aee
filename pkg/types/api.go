package types

// GenerateRequest is the payload of POST /generate.
type GenerateRequest struct {
	// Prompt text describing the image.
	// example: a lighthouse at dusk, oil painting
	Prompt string `json:"prompt" example:"a lighthouse at dusk, oil painting"`
	// Number of inference steps.
	// example: 9
	Steps int `json:"steps,omitempty" example:"9"`
	// Output width in pixels; rounded down to a multiple of 16.
	// example: 1280
	Width int `json:"width,omitempty" example:"1280"`
	// Output height in pixels; rounded down to a multiple of 16.
	// example: 720
	Height int `json:"height,omitempty" example:"720"`
	// Optional seed. Omit for a random one; the resolved seed is returned.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
	// Model precision: full, q8 or q4. Omit for the server default.
	// example: q8
	Precision string `json:"precision,omitempty" example:"q8"`
	// Up to four registered LoRA files applied in order.
	Loras []LoraInput `json:"loras,omitempty"`
}

// LoraInput references a registered LoRA file by name.
type LoraInput struct {
	// example: watercolor.safetensors
	Filename string `json:"filename" example:"watercolor.safetensors"`
	// Signed strength in [-1, 2].
	// example: 1
	Strength float64 `json:"strength" example:"1"`
}

// Request defaults.
const (
	DefaultSteps    = 9
	DefaultWidth    = 1280
	DefaultHeight   = 720
	DefaultStrength = 1.0
)

// ApplyDefaults fills zero fields with the request defaults. Precision stays
// empty so the server picks its configured or recommended default.
func (r *GenerateRequest) ApplyDefaults() {
	if r.Steps == 0 {
		r.Steps = DefaultSteps
	}
	if r.Width == 0 {
		r.Width = DefaultWidth
	}
	if r.Height == 0 {
		r.Height = DefaultHeight
	}
}

// GenerateResponse describes a finished and stored generation.
type GenerateResponse struct {
	// History id.
	// example: 17
	ID int64 `json:"id" example:"17"`
	// example: /outputs/a_lighthouse_at_dusk_1700000000.png
	ImageURL string `json:"image_url" example:"/outputs/a_lighthouse_at_dusk_1700000000.png"`
	// Wall time in seconds.
	// example: 12.41
	GenerationTime float64 `json:"generation_time" example:"12.41"`
	// example: 1280
	Width int `json:"width" example:"1280"`
	// example: 720
	Height int `json:"height" example:"720"`
	// example: 1432.5
	FileSizeKB float64 `json:"file_size_kb" example:"1432.5"`
	// The seed actually used.
	// example: 42
	Seed int64 `json:"seed" example:"42"`
	// example: q8
	Precision string `json:"precision" example:"q8"`
	// example: Disty0/Z-Image-Turbo-SDNQ-int8
	ModelID string      `json:"model_id" example:"Disty0/Z-Image-Turbo-SDNQ-int8"`
	Loras   []LoraInput `json:"loras"`
	// Set when the compiled transformer failed and the request was retried.
	Retried bool `json:"retried,omitempty"`
	// Absolute path of the written image (not serialized).
	Path string `json:"-"`
}

// ModelInfo is one precision variant on this machine.
type ModelInfo struct {
	// example: q8
	ID string `json:"id" example:"q8"`
	// example: q8
	Precision string `json:"precision" example:"q8"`
	// example: Disty0/Z-Image-Turbo-SDNQ-int8
	HFModelID   string `json:"hf_model_id" example:"Disty0/Z-Image-Turbo-SDNQ-int8"`
	Available   bool   `json:"available" example:"true"`
	Recommended bool   `json:"recommended" example:"true"`
}

// ModelsResponse is returned by GET /models.
type ModelsResponse struct {
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// Total system RAM; null when unknown.
	// example: 32
	RAMGB *float64 `json:"ram_gb" example:"32"`
	// Total device memory; null when unknown.
	// example: 12
	VRAMGB *float64 `json:"vram_gb" example:"12"`
	// example: q8
	DefaultPrecision string      `json:"default_precision" example:"q8"`
	Models           []ModelInfo `json:"models"`
}

// Lora is a registered LoRA file.
type Lora struct {
	// example: 3
	ID int64 `json:"id" example:"3"`
	// example: watercolor.safetensors
	Filename string `json:"filename" example:"watercolor.safetensors"`
	// example: Watercolor
	DisplayName string `json:"display_name" example:"Watercolor"`
	// example: wtrclr style
	TriggerWord string `json:"trigger_word,omitempty" example:"wtrclr style"`
	// SHA-256 of the file contents.
	Hash string `json:"hash,omitempty"`
	// example: 2025-01-01 10:00:00
	CreatedAt string `json:"created_at" example:"2025-01-01 10:00:00"`
}

// HistoryLora is a LoRA as it was applied to a past generation.
type HistoryLora struct {
	ID          int64   `json:"id"`
	Filename    string  `json:"filename"`
	DisplayName string  `json:"display_name"`
	Strength    float64 `json:"strength"`
}

// HistoryItem is one stored generation.
type HistoryItem struct {
	// example: 17
	ID     int64  `json:"id" example:"17"`
	Prompt string `json:"prompt"`
	// example: 9
	Steps int `json:"steps" example:"9"`
	// example: 1280
	Width int `json:"width" example:"1280"`
	// example: 720
	Height int `json:"height" example:"720"`
	// example: 42
	Seed *int64 `json:"seed" example:"42"`
	// example: Disty0/Z-Image-Turbo-SDNQ-int8
	Model string `json:"model" example:"Disty0/Z-Image-Turbo-SDNQ-int8"`
	// example: q8
	Precision string `json:"precision" example:"q8"`
	// succeeded or failed
	// example: succeeded
	Status string `json:"status" example:"succeeded"`
	// example: a_lighthouse_at_dusk_1700000000.png
	Filename       string        `json:"filename" example:"a_lighthouse_at_dusk_1700000000.png"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      string        `json:"created_at"`
	GenerationTime float64       `json:"generation_time"`
	FileSizeKB     float64       `json:"file_size_kb"`
	Loras          []HistoryLora `json:"loras"`
}

// PipelineStatus describes the cached pipeline for /status.
type PipelineStatus struct {
	// example: q8
	Precision string `json:"precision" example:"q8"`
	// example: Disty0/Z-Image-Turbo-SDNQ-int8
	ModelID string `json:"model_id" example:"Disty0/Z-Image-Turbo-SDNQ-int8"`
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// example: bfloat16
	DType string `json:"dtype" example:"bfloat16"`
	// Whether the compiled transformer is active.
	Compiled bool `json:"compiled"`
	// example: 1700000000
	BuiltAtUnix int64 `json:"built_at_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Manager state: idle, loading, ready, error or stopped.
	// example: ready
	State string `json:"state" example:"ready"`
	// Pending units on the device worker.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Cached pipeline; absent when none is built.
	Pipeline *PipelineStatus `json:"pipeline,omitempty"`
	// Successful pipeline constructions since start.
	// example: 1
	BuildsTotal int64 `json:"builds_total" example:"1"`
	// Runner backend, when configured.
	RunnerPID int    `json:"runner_pid,omitempty"`
	RunnerURL string `json:"runner_url,omitempty"`
	// Last error observed by the manager.
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: Maximum 4 LoRAs allowed.
	Error string `json:"error" example:"Maximum 4 LoRAs allowed."`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// MessageResponse acknowledges a delete.
type MessageResponse struct {
	// example: LoRA deleted
	Message string `json:"message" example:"LoRA deleted"`
}

// UploadLoraResponse is returned by POST /loras.
type UploadLoraResponse struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	DisplayName string `json:"display_name"`
}
