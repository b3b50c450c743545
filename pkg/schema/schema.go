package schema

import (
	"time"
)

// MediaType identifies the kind of media a request wants generated.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Status is the terminal state of a generation attempt.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusProcessing Status = "processing"
)

// ProviderAuto lets the router pick a provider instead of the caller pinning one.
const ProviderAuto = "auto"

// UnifiedRequest is the provider-agnostic generation request envelope.
// It is treated as immutable once constructed; migrations produce copies.
type UnifiedRequest struct {
	SchemaVersion string         `json:"schema_version,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	Model         string         `json:"model" binding:"required"`
	Prompt        string         `json:"prompt" binding:"required"`
	MediaType     MediaType      `json:"media_type" binding:"required,oneof=image video"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp,omitempty"`
	Timeout       time.Duration  `json:"timeout,omitempty"`
	Retry         *RetryOverride `json:"retry,omitempty"`
	Callback      string         `json:"callback,omitempty"`
}

// RetryOverride lets a single request override the router's retry policy.
type RetryOverride struct {
	MaxAttempts int           `json:"max_attempts,omitempty"`
	BaseBackoff time.Duration `json:"base_backoff,omitempty"`
	MaxBackoff  time.Duration `json:"max_backoff,omitempty"`
}

// Clone returns a deep copy so migrations never mutate the caller's value.
func (r *UnifiedRequest) Clone() *UnifiedRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Parameters = cloneMap(r.Parameters)
	out.Metadata = cloneMap(r.Metadata)
	if r.Retry != nil {
		retry := *r.Retry
		out.Retry = &retry
	}
	return &out
}

// UnifiedResponse is the provider-agnostic generation response envelope.
type UnifiedResponse struct {
	SchemaVersion  string            `json:"schema_version,omitempty"`
	RequestID      string            `json:"request_id"`
	Provider       string            `json:"provider,omitempty"`
	Model          string            `json:"model,omitempty"`
	Status         Status            `json:"status"`
	Result         *GenerationResult `json:"result,omitempty"`
	Error          *ErrorDetails     `json:"error,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp,omitempty"`
	ProcessingTime time.Duration     `json:"processing_time,omitempty"`
	Usage          *Usage            `json:"usage,omitempty"`
}

// Clone returns a deep copy; cache consumers receive copies, never live entries.
func (r *UnifiedResponse) Clone() *UnifiedResponse {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = cloneMap(r.Metadata)
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	if r.Error != nil {
		e := *r.Error
		e.Details = cloneMap(r.Error.Details)
		out.Error = &e
	}
	if r.Usage != nil {
		u := *r.Usage
		out.Usage = &u
	}
	return &out
}

// GenerationResult carries the produced media reference and its dimensions.
type GenerationResult struct {
	URL             string  `json:"url,omitempty"`
	ContentType     string  `json:"content_type,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
}

// ErrorDetails is the wire shape of a failed generation.
type ErrorDetails struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	Provider   string         `json:"provider,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
	RetryAfter time.Duration  `json:"retry_after,omitempty"`
}

// Usage accounts for what the upstream call cost.
type Usage struct {
	CostUSD       float64 `json:"cost_usd,omitempty"`
	GenerationSec float64 `json:"generation_sec,omitempty"`
	NumOutputs    int     `json:"num_outputs,omitempty"`
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
