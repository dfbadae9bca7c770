package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"agora.org/internal/governance"
	"agora.org/internal/obs"
)

const serviceName = "agora-api"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API to the engine and its collaborators.
type Options struct {
	Service *governance.Service
	Tokens  TokenParser
	// Issuer enables POST /v1/auth/token when set.
	Issuer       TokenIssuer
	Ready        ReadinessChecker
	Version      string
	Logger       *zap.Logger
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
	CORSOrigins  []string
}

// API is the HTTP surface of the governance engine.
type API struct {
	svc     *governance.Service
	tokens  TokenParser
	issuer  TokenIssuer
	ready   ReadinessChecker
	version string
	log     *zap.Logger
	limiter *RateLimiter
	opts    Options
}

func New(opts Options) *API {
	a := &API{
		svc:     opts.Service,
		tokens:  opts.Tokens,
		issuer:  opts.Issuer,
		ready:   opts.Ready,
		version: opts.Version,
		log:     opts.Logger,
		opts:    opts,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	a.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
	return a
}

// Handler returns the fully wrapped router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging(a.log))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.opts.CORSOrigins))
	r.Use(a.limiter.Middleware)
	r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)
		if a.issuer != nil {
			r.Post("/auth/token", a.handleAuthToken)
		}

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Post("/groups", a.createGroup)
			r.Route("/groups/{groupID}", func(r chi.Router) {
				r.Get("/", a.getGroup)
				r.Delete("/", a.deleteGroup)
				r.Get("/members", a.listMembers)
				r.Post("/leave", a.leaveGroup)
				r.Post("/founder", a.transferFounder)
				r.Get("/health", a.groupHealth)
				r.Get("/logs", a.governanceLog)
				r.Get("/funds", a.listFunds)

				r.Post("/join-requests", a.requestToJoin)
				r.Get("/join-requests", a.listJoinRequests)

				r.Post("/proposals", a.proposeAction)
				r.Get("/proposals", a.listActiveProposals)
				r.Get("/proposals/history", a.proposalHistory)
				r.Post("/policy-proposals", a.createPolicyProposal)
				r.Post("/reconfirmations", a.triggerReconfirmation)
			})
			r.Post("/join-requests/{requestID}/decision", a.decideJoinRequest)
			r.Post("/join-requests/{requestID}/votes", a.castJoinVote)
			r.Post("/proposals/{proposalID}/votes", a.voteOnProposal)
		})
	})

	return obs.Instrument(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeErrorCode(w, r, status, "", msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// handleGovernanceError maps engine errors onto HTTP statuses.
func (a *API) handleGovernanceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, governance.ErrInvalidInput):
		writeErrorCode(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, governance.ErrUnauthorized):
		writeErrorCode(w, r, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, governance.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, governance.ErrDuplicateVote):
		writeErrorCode(w, r, http.StatusConflict, "duplicate_vote", err.Error())
	case errors.Is(err, governance.ErrDuplicateProposal):
		writeErrorCode(w, r, http.StatusConflict, "duplicate_proposal", err.Error())
	case errors.Is(err, governance.ErrInvalidState):
		writeErrorCode(w, r, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, governance.ErrPromotionRequired):
		writeErrorCode(w, r, http.StatusUnprocessableEntity, "promotion_required", err.Error())
	case errors.Is(err, governance.ErrGovernanceViolation):
		writeErrorCode(w, r, http.StatusUnprocessableEntity, "governance_violation", err.Error())
	case errors.Is(err, governance.ErrSelfTargeting):
		writeErrorCode(w, r, http.StatusUnprocessableEntity, "self_targeting", err.Error())
	case errors.Is(err, governance.ErrFounderImmune):
		writeErrorCode(w, r, http.StatusUnprocessableEntity, "founder_immune", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		a.log.Error("governance request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parseLimit(raw string, def, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < 1 || val > max {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(max))
	}
	return val, nil
}
