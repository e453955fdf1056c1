package httpapi

import (
	"drawd/internal/dispatch"
	"drawd/internal/session"
	"drawd/internal/studio"
	"drawd/internal/templates"
	"drawd/pkg/types"
)

func drawResponse(res dispatch.Result, est studio.Estimate) types.DrawResponse {
	out := types.DrawResponse{
		ID:                   res.ID,
		State:                string(res.State),
		Position:             est.Position,
		EstimatedWaitSeconds: est.Wait.Seconds(),
		Engine:               string(res.Kind),
		Slot:                 res.SlotID,
		Attempts:             res.Attempts,
		ErrorKind:            string(res.ErrorKind),
	}
	if res.State == dispatch.StateCompleted {
		out.Images = res.Artifact.Images
		out.Text = res.Artifact.Text
	}
	if res.State.Terminal() {
		out.Error = errString(res.Err)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func toTemplate(t templates.Template) types.Template {
	return types.Template{Name: t.Name, Prompt: t.Prompt, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

func toSession(s session.Snapshot) types.SessionResponse {
	out := types.SessionResponse{
		Key:       s.Key,
		Mode:      string(s.Mode),
		State:     string(s.State),
		Name:      s.Name,
		Prompt:    s.Body,
		Turns:     s.Turns,
		Revisions: len(s.History),
		Reason:    s.Reason,
	}
	if !s.ExpiresAt.IsZero() && !s.State.Terminal() {
		out.ExpiresAtUnix = s.ExpiresAt.Unix()
	}
	return out
}

func toEvent(e dispatch.Event) types.EventRecord {
	return types.EventRecord{
		Name:      e.Name,
		AtUnix:    e.At.Unix(),
		RequestID: e.RequestID,
		SlotID:    e.SlotID,
		Fields:    e.Fields,
	}
}
