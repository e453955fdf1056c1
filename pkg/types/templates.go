package types

import "time"

// Template is a named reusable prompt fragment.
type Template struct {
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TemplatesResponse wraps GET /templates.
type TemplatesResponse struct {
	Templates []Template `json:"templates"`
}

// TemplateWriteRequest is used by POST /templates and PUT /templates/{name}.
type TemplateWriteRequest struct {
	Name   string `json:"name,omitempty"`
	Prompt string `json:"prompt"`
}

// DeleteTemplatesRequest is the body of DELETE /templates.
type DeleteTemplatesRequest struct {
	Names []string `json:"names"`
}

// DeleteTemplatesResponse reports which names were removed.
type DeleteTemplatesResponse struct {
	Deleted []string `json:"deleted"`
	Missing []string `json:"missing,omitempty"`
}

// CountResponse reports how many templates an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// SessionStartRequest opens a template create/optimize conversation.
type SessionStartRequest struct {
	// create or optimize.
	Mode string `json:"mode"`
	// Seed image for create mode (base64 in JSON).
	Image []byte `json:"image,omitempty"`
	// Optional description accompanying the seed image.
	Hint string `json:"hint,omitempty"`
	// Existing template name or index for optimize mode.
	Template string `json:"template,omitempty"`
	// Optional first instruction for optimize mode.
	Instruction string `json:"instruction,omitempty"`
}

// SessionTurnRequest carries one user reply: confirm, cancel or a revision instruction.
type SessionTurnRequest struct {
	Input string `json:"input"`
}

// SessionRenameRequest renames the draft of a create session.
type SessionRenameRequest struct {
	Name string `json:"name"`
}

// SessionResponse is the externally visible state of a session.
type SessionResponse struct {
	Key           string `json:"key"`
	Mode          string `json:"mode"`
	State         string `json:"state"`
	Name          string `json:"name"`
	Prompt        string `json:"prompt"`
	Turns         int    `json:"turns"`
	Revisions     int    `json:"revisions"`
	Reason        string `json:"reason,omitempty"`
	ExpiresAtUnix int64  `json:"expires_at_unix,omitempty"`
}
