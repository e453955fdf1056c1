package types

// DrawRequest is the payload of POST /draw.
type DrawRequest struct {
	// Free text describing the image.
	// example: a cat wearing a space suit
	Prompt string `json:"prompt"`
	// Engine preference: api, web or any (default: server configured engine).
	// example: api
	Engine string `json:"engine,omitempty"`
	// Template name or 1-based index from GET /templates.
	// example: figure
	Template string `json:"template,omitempty"`
	// Optimize overrides the server default for AI prompt optimization.
	Optimize *bool `json:"optimize,omitempty"`
	// Input images, base64 encoded in JSON.
	Images [][]byte `json:"images,omitempty"`
	// Wait blocks the response until the request reaches a terminal state.
	Wait bool `json:"wait,omitempty"`
}

// DrawResponse describes a draw request at any point of its lifecycle.
type DrawResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
	// 1-based queue position; 0 once dispatched or terminal.
	Position int `json:"position,omitempty"`
	// Estimated seconds until dispatch.
	EstimatedWaitSeconds float64  `json:"estimated_wait_seconds"`
	Engine               string   `json:"engine"`
	Slot                 string   `json:"slot,omitempty"`
	Attempts             int      `json:"attempts,omitempty"`
	Error                string   `json:"error,omitempty"`
	ErrorKind            string   `json:"error_kind,omitempty"`
	Images               [][]byte `json:"images,omitempty"`
	Text                 string   `json:"text,omitempty"`
}

// CancelResponse is returned by DELETE /draw/{id}.
type CancelResponse struct {
	ID string `json:"id"`
	// queued: removed before dispatch; dispatched: best-effort interruption requested.
	Outcome string `json:"outcome"`
}

// SlotStatus summarizes one engine slot for GET /status.
type SlotStatus struct {
	ID                       string  `json:"id"`
	Kind                     string  `json:"kind"`
	State                    string  `json:"state"`
	LastUsedUnix             int64   `json:"last_used_unix"`
	AvgServiceSeconds        float64 `json:"avg_service_seconds"`
	CooldownRemainingSeconds float64 `json:"cooldown_remaining_seconds"`
	Runs                     uint64  `json:"runs"`
	Failures                 uint64  `json:"failures"`
	DisabledReason           string  `json:"disabled_reason,omitempty"`
}

// QueueStatus is returned by GET /status.
type QueueStatus struct {
	QueueLen       int          `json:"queue_len"`
	MaxQueueDepth  int          `json:"max_queue_depth"`
	Inflight       int          `json:"inflight"`
	Slots          []SlotStatus `json:"slots"`
	TotalSubmitted uint64       `json:"total_submitted"`
	TotalCompleted uint64       `json:"total_completed"`
	TotalFailed    uint64       `json:"total_failed"`
	TotalCancelled uint64       `json:"total_cancelled"`
	TotalRejected  uint64       `json:"total_rejected"`
	ServerTimeUnix int64        `json:"server_time_unix"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: on cooldown for 1m30s
	Error string `json:"error"`
	// HTTP status code.
	// example: 429
	Code int `json:"code"`
	// Stable error classification.
	// example: admission_rejected
	Kind string `json:"kind,omitempty"`
}

// EventRecord is one dispatcher lifecycle event.
type EventRecord struct {
	// example: request_completed
	Name      string         `json:"name"`
	AtUnix    int64          `json:"at_unix"`
	RequestID string         `json:"request_id,omitempty"`
	SlotID    string         `json:"slot_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// EventsResponse wraps GET /events, oldest first.
type EventsResponse struct {
	Events []EventRecord `json:"events"`
}
