package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/c2fleet/pkg/model"
)

const defaultMaxBodyBytes = 2 << 20

// Protocol handles decoded C2 messages.
type Protocol interface {
	ProcessHeartbeat(ctx context.Context, hb *model.C2Heartbeat) (*model.C2HeartbeatResponse, error)
	ProcessOperationAck(ctx context.Context, ack *model.C2OperationAck)
}

// HealthFunc reports whether the backing store is usable.
type HealthFunc func(ctx context.Context) error

// API serves the C2 endpoints.
type API struct {
	protocol     Protocol
	health       HealthFunc
	logger       zerolog.Logger
	maxBodyBytes int64
}

// Option configures an API.
type Option func(*API)

// WithHealthCheck sets the check behind /healthz.
func WithHealthCheck(fn HealthFunc) Option {
	return func(a *API) { a.health = fn }
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *API) { a.logger = logger.With().Str("component", "transport").Logger() }
}

// WithMaxBodyBytes bounds request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// NewAPI creates the HTTP API over a protocol handler.
func NewAPI(protocol Protocol, opts ...Option) *API {
	a := &API{
		protocol:     protocol,
		logger:       zerolog.Nop(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the routed handler.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /c2/heartbeat", a.Heartbeat)
	mux.HandleFunc("POST /c2/acknowledge", a.Acknowledge)
	mux.HandleFunc("GET /healthz", a.Healthz)
	return a.logRequests(mux)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// decodeBody decodes a JSON body into v, bounded by the configured limit.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("bad body: %w", err)
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// Heartbeat handles POST /c2/heartbeat.
func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var hb *model.C2Heartbeat
	if err := a.decodeBody(w, r, &hb); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp, err := a.protocol.ProcessHeartbeat(r.Context(), hb)
	if err != nil {
		if model.IsInvalidArgument(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error().Err(err).Msg("Heartbeat processing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Acknowledge handles POST /c2/acknowledge.
func (a *API) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var ack model.C2OperationAck
	if err := a.decodeBody(w, r, &ack); err != nil {
		writeDecodeError(w, err)
		return
	}

	a.protocol.ProcessOperationAck(r.Context(), &ack)
	w.WriteHeader(http.StatusOK)
}

// Healthz handles GET /healthz.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		event := a.logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			event = a.logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

