package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jonwraymond/sendguard/auth"
	"github.com/jonwraymond/sendguard/health"
	"github.com/jonwraymond/sendguard/observe"
	"github.com/jonwraymond/sendguard/resilience"
	"github.com/jonwraymond/sendguard/sender"
)

// maxBodySize bounds POST /v1/sends bodies.
const maxBodySize = 1 << 20

// Service is the part of *sender.Coordinator the API needs.
type Service interface {
	Send(ctx context.Context, req sender.Request) (*sender.Outcome, error)
	GetRetryStatus(ctx context.Context, targetID string) (*sender.RetryStatus, error)
	CircuitStatus() resilience.CircuitStatus
}

// Config wires optional collaborators into the router.
type Config struct {
	// Authenticator guards /v1 routes. Nil disables authentication.
	Authenticator auth.Authenticator

	// Health mounts the probe endpoints when set.
	Health *health.Aggregator

	// Metrics is served at /metrics when set.
	Metrics http.Handler

	Logger observe.Logger

	// Now is used for Retry-After. Default: time.Now
	Now func() time.Time
}

type server struct {
	svc    Service
	logger observe.Logger
	now    func() time.Time
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc Service, cfg Config) http.Handler {
	s := &server{svc: svc, logger: cfg.Logger, now: cfg.Now}
	if s.logger == nil {
		s.logger = observe.NewNopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		health.Mount(r, cfg.Health)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		requireSender := passthrough
		requireViewer := passthrough
		if cfg.Authenticator != nil {
			r.Use(auth.Middleware(cfg.Authenticator, s.logger))
			requireSender = auth.RequireRole(auth.RoleSender)
			requireViewer = auth.RequireRole(auth.RoleViewer)
		}

		r.With(requireSender).Post("/sends", s.send)
		r.With(requireViewer).Get("/sends/{targetID}/status", s.status)
		r.With(requireViewer).Get("/circuit", s.circuit)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrorResponse{Error: "not found", Kind: "not_found"})
	})
	return r
}

func passthrough(next http.Handler) http.Handler { return next }

func (s *server) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, badRequest("request body too large"))
			return
		}
		writeError(w, http.StatusBadRequest, badRequest("invalid json"))
		return
	}

	req.TargetID = strings.TrimSpace(req.TargetID)
	if req.TargetID == "" {
		writeError(w, http.StatusBadRequest, badRequest("targetId is required"))
		return
	}

	sreq := req.toSender()
	if err := sreq.Message.Validate(); err != nil {
		resp := badRequest(err.Error())
		resp.Code = resilience.CodeOf(err).String()
		writeError(w, http.StatusBadRequest, resp)
		return
	}

	if id := auth.IdentityFromContext(r.Context()); id != nil {
		s.logger.Debug(r.Context(), "send requested",
			observe.F("target_id", req.TargetID),
			observe.F("principal", id.Principal),
		)
	}

	out, err := s.svc.Send(r.Context(), sreq)
	if err != nil {
		s.writeSendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSendResponse(out))
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "targetID")
	st, err := s.svc.GetRetryStatus(r.Context(), target)
	if err != nil {
		s.writeSendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) circuit(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.CircuitStatus())
}

func (s *server) writeSendError(w http.ResponseWriter, r *http.Request, err error) {
	var serr *sender.Error
	if !errors.As(err, &serr) {
		s.logger.Error(r.Context(), "unclassified send error", observe.F("error", err))
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Kind: "internal"})
		return
	}

	resp := ErrorResponse{
		Error:         serr.Error(),
		Kind:          serr.Kind.String(),
		Retryable:     serr.Retryable(),
		Attempts:      serr.Attempts,
		RetriedErrors: serr.RetriedErrors,
	}
	if serr.Kind == sender.KindTransport || serr.Kind == sender.KindRetriesExhausted {
		resp.Code = serr.Code.String()
	}
	if serr.Kind == sender.KindCircuitOpen {
		if next := s.svc.CircuitStatus().NextProbeAt; next != nil {
			w.Header().Set("Retry-After", retryAfter(next.Sub(s.now())))
		}
	}
	if serr.Kind == sender.KindStorage {
		s.logger.Error(r.Context(), "send storage failure", observe.F("error", err))
	}
	writeError(w, serr.Kind.HTTPStatus(), resp)
}

// retryAfter renders d in whole seconds, at least one.
func retryAfter(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func badRequest(msg string) ErrorResponse {
	return ErrorResponse{Error: msg, Kind: "invalid_request"}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, resp ErrorResponse) {
	writeJSON(w, code, resp)
}
