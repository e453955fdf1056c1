package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drawd/internal/dispatch"
	"drawd/internal/session"
	"drawd/internal/studio"
	"drawd/internal/templates"
	"drawd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Draw(ctx context.Context, c studio.Caller, in studio.DrawInput) (*dispatch.Ticket, studio.Estimate, error)
	Lookup(id string) (dispatch.Result, studio.Estimate, bool)
	Cancel(c studio.Caller, id string) (dispatch.CancelOutcome, error)
	Status() types.QueueStatus
	Ready() bool

	Templates(ctx context.Context) ([]templates.Template, error)
	Template(ctx context.Context, ref string) (templates.Template, error)
	AddTemplate(ctx context.Context, c studio.Caller, name, body string) (templates.Template, error)
	EditTemplate(ctx context.Context, c studio.Caller, ref, body string) (templates.Template, error)
	DeleteTemplates(ctx context.Context, c studio.Caller, refs ...string) (deleted, missing []string, err error)
	ReloadTemplates(ctx context.Context, c studio.Caller) (int, error)
	ClearTemplates(ctx context.Context, c studio.Caller) (int, error)

	StartSession(ctx context.Context, c studio.Caller, mode session.Mode, seed session.Seed) (session.Snapshot, error)
	Respond(ctx context.Context, c studio.Caller, input string) (session.Snapshot, error)
	RenameSession(c studio.Caller, name string) (session.Snapshot, error)
	CancelSession(ctx context.Context, c studio.Caller) (session.Snapshot, error)
	Session(c studio.Caller) (session.Snapshot, error)
	Sessions(c studio.Caller) ([]session.Snapshot, error)

	SetSlotEnabled(c studio.Caller, id string, enabled bool) error
	ClearCooldowns(c studio.Caller, caller string) (bool, error)
	Events(c studio.Caller, n int) ([]dispatch.Event, error)
}

var _ Service = (*studio.Service)(nil)

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", HeaderUserID, HeaderAdminToken}),
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)
	r.Use(withCaller)
	r.Use(accessLog)

	h := &handlers{svc: svc}
	r.Post("/draw", h.draw)
	r.Get("/draw/{id}", h.getDraw)
	r.Delete("/draw/{id}", h.cancelDraw)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.listTemplates)
		r.Post("/", h.addTemplate)
		r.Delete("/", h.deleteTemplates)
		r.Post("/reload", h.reloadTemplates)
		r.Post("/clear", h.clearTemplates)
		r.Get("/{ref}", h.getTemplate)
		r.Put("/{ref}", h.editTemplate)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.listSessions)
		r.Post("/", h.startSession)
		r.Delete("/", h.cancelSession)
		r.Get("/current", h.currentSession)
		r.Post("/turn", h.sessionTurn)
		r.Post("/rename", h.renameSession)
	})

	r.Post("/slots/{id}/enable", h.setSlot(true))
	r.Post("/slots/{id}/disable", h.setSlot(false))
	r.Delete("/cooldowns/{caller}", h.clearCooldown)
	r.Get("/events", h.events)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no engine available"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

type handlers struct {
	svc Service
}

// decodeJSON enforces the content type and body limit. It writes the error
// response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONErrorKind(w, http.StatusUnsupportedMediaType, kindInvalid, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONErrorKind(w, http.StatusRequestEntityTooLarge, kindInvalid, "request body too large")
			return false
		}
		writeJSONErrorKind(w, http.StatusBadRequest, kindInvalid, "invalid JSON body")
		return false
	}
	return true
}

func (h *handlers) draw(w http.ResponseWriter, r *http.Request) {
	var req types.DrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	ticket, est, err := h.svc.Draw(ctx, callerFrom(r), studio.DrawInput{
		Prompt:   req.Prompt,
		Engine:   req.Engine,
		Template: req.Template,
		Optimize: req.Optimize,
		Images:   req.Images,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !req.Wait {
		writeJSON(w, http.StatusAccepted, types.DrawResponse{
			ID:                   ticket.ID(),
			State:                string(dispatch.StateQueued),
			Position:             est.Position,
			EstimatedWaitSeconds: est.Wait.Seconds(),
		})
		return
	}
	if drawWaitTimeout > 0 {
		var c context.CancelFunc
		ctx, c = context.WithTimeout(ctx, drawWaitTimeout)
		defer c()
	}
	res, err := ticket.Wait(ctx)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		// Wait bound reached or server shutting down: report progress instead.
		res, est, _ = h.svc.Lookup(ticket.ID())
		writeJSON(w, http.StatusAccepted, drawResponse(res, est))
		return
	}
	writeResult(w, res)
}

func writeResult(w http.ResponseWriter, res dispatch.Result) {
	switch res.State {
	case dispatch.StateCompleted:
		writeJSON(w, http.StatusOK, drawResponse(res, studio.Estimate{}))
	case dispatch.StateCancelled:
		writeJSONErrorKind(w, http.StatusConflict, string(res.State), errString(res.Err))
	default:
		if res.ErrorKind == "" {
			// Failed without reaching an engine: the engine class was disabled while queued.
			writeError(w, res.Err)
			return
		}
		writeJSONErrorKind(w, http.StatusBadGateway, string(res.ErrorKind), errString(res.Err))
	}
}

func (h *handlers) getDraw(w http.ResponseWriter, r *http.Request) {
	res, est, ok := h.svc.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, dispatch.ErrRequestNotFound)
		return
	}
	writeJSON(w, http.StatusOK, drawResponse(res, est))
}

func (h *handlers) cancelDraw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := h.svc.Cancel(callerFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CancelResponse{ID: id, Outcome: string(out)})
}

func (h *handlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.Templates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := types.TemplatesResponse{Templates: make([]types.Template, 0, len(all))}
	for _, t := range all {
		out.Templates = append(out.Templates, toTemplate(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Template(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplate(t))
}

func (h *handlers) addTemplate(w http.ResponseWriter, r *http.Request) {
	var req types.TemplateWriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.svc.AddTemplate(r.Context(), callerFrom(r), req.Name, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplate(t))
}

func (h *handlers) editTemplate(w http.ResponseWriter, r *http.Request) {
	var req types.TemplateWriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.svc.EditTemplate(r.Context(), callerFrom(r), chi.URLParam(r, "ref"), req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplate(t))
}

func (h *handlers) deleteTemplates(w http.ResponseWriter, r *http.Request) {
	var req types.DeleteTemplatesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Names) == 0 {
		writeJSONErrorKind(w, http.StatusBadRequest, kindInvalid, "names is required")
		return
	}
	deleted, missing, err := h.svc.DeleteTemplates(r.Context(), callerFrom(r), req.Names...)
	if err != nil {
		writeError(w, err)
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	writeJSON(w, http.StatusOK, types.DeleteTemplatesResponse{Deleted: deleted, Missing: missing})
}

func (h *handlers) reloadTemplates(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ReloadTemplates(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CountResponse{Count: n})
}

func (h *handlers) clearTemplates(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearTemplates(r.Context(), callerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CountResponse{Count: n})
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	var req types.SessionStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		writeError(w, errors.Join(session.ErrInvalidSeed, err))
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	snap, err := h.svc.StartSession(ctx, callerFrom(r), mode, session.Seed{
		Image:       req.Image,
		Hint:        req.Hint,
		Template:    req.Template,
		Instruction: req.Instruction,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSession(snap))
}

func (h *handlers) sessionTurn(w http.ResponseWriter, r *http.Request) {
	var req types.SessionTurnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	h.writeSession(w)(h.svc.Respond(ctx, callerFrom(r), req.Input))
}

func (h *handlers) renameSession(w http.ResponseWriter, r *http.Request) {
	var req types.SessionRenameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.writeSession(w)(h.svc.RenameSession(callerFrom(r), req.Name))
}

func (h *handlers) cancelSession(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w)(h.svc.CancelSession(r.Context(), callerFrom(r)))
}

func (h *handlers) currentSession(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w)(h.svc.Session(callerFrom(r)))
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.Sessions(callerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]types.SessionResponse, 0, len(all))
	for _, s := range all {
		out = append(out, toSession(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *handlers) writeSession(w http.ResponseWriter) func(session.Snapshot, error) {
	return func(snap session.Snapshot, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSession(snap))
	}
}

func (h *handlers) setSlot(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.SetSlotEnabled(callerFrom(r), chi.URLParam(r, "id"), enabled); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) clearCooldown(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.svc.ClearCooldowns(callerFrom(r), chi.URLParam(r, "caller"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

// events lists recent dispatcher events; ?limit=N keeps the newest N.
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONErrorKind(w, http.StatusBadRequest, kindInvalid, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	evs, err := h.svc.Events(callerFrom(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := types.EventsResponse{Events: make([]types.EventRecord, 0, len(evs))}
	for _, e := range evs {
		out.Events = append(out.Events, toEvent(e))
	}
	writeJSON(w, http.StatusOK, out)
}
