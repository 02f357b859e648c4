package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"greenproof/bans"
	"greenproof/evidence"
	"greenproof/models"
	"greenproof/rewards"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	ListenAddress string
	AdminAuth     *Authenticator
	IntakeRate    RateLimit
}

// Server hosts the intake and admin HTTP surfaces for the pipeline.
type Server struct {
	cfg         Config
	store       *evidence.Store
	registry    *bans.Registry
	distributor *rewards.Distributor
	ledger      *rewards.Ledger
	logger      *slog.Logger
	router      http.Handler
}

// New constructs a configured HTTP server.
func New(cfg Config, store *evidence.Store, registry *bans.Registry, distributor *rewards.Distributor, ledger *rewards.Ledger, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("evidence store required")
	}
	if registry == nil {
		return nil, errors.New("ban registry required")
	}
	if distributor == nil {
		return nil, errors.New("distributor required")
	}
	if ledger == nil {
		return nil, errors.New("ledger required")
	}
	if cfg.AdminAuth == nil {
		return nil, errors.New("admin authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		distributor: distributor,
		ledger:      ledger,
		logger:      logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "greenproof")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	limiter := NewRateLimiter(s.cfg.IntakeRate, s.logger)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(intake chi.Router) {
			intake.Use(limiter.Middleware)
			intake.Post("/evidence", s.StoreEvidence)
			intake.Post("/rewards", s.DistributeReward)
		})
		api.Get("/evidence/{subject}", s.ReadEvidence)

		api.Group(func(admin chi.Router) {
			admin.Use(s.cfg.AdminAuth.Middleware)
			admin.Get("/review/queue", s.ListUnreviewed)
			admin.Post("/review/{id}", s.MarkReviewed)
			admin.Get("/bans/{identity}", s.BanStatus)
			admin.Post("/bans", s.AddBan)
			admin.Delete("/bans/{identity}", s.RemoveBan)
			admin.Get("/distributions/{correlation}", s.ListByCorrelation)
		})
	})
	return r
}

type evidenceView struct {
	ID          uuid.UUID  `json:"id"`
	SubjectID   string     `json:"subject_id"`
	ContentHash string     `json:"content_hash"`
	MimeType    string     `json:"mime_type"`
	ByteSize    int64      `json:"byte_size"`
	Flags       []string   `json:"flags"`
	RiskScore   int        `json:"risk_score"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
}

func viewOf(record models.EvidenceRecord, includePayload bool) evidenceView {
	view := evidenceView{
		ID:          record.ID,
		SubjectID:   record.SubjectID,
		ContentHash: record.ContentHash,
		MimeType:    record.MimeType,
		ByteSize:    record.ByteSize,
		Flags:       evidence.SplitFlags(record.Flags),
		RiskScore:   record.RiskScore,
		UploadedAt:  record.UploadedAt,
		ReviewedAt:  record.ReviewedAt,
		ReviewedBy:  record.ReviewedBy,
	}
	if includePayload {
		view.Payload = record.Payload
	}
	return view
}

// StoreEvidence accepts one receipt image from the intake collaborator.
func (s *Server) StoreEvidence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubjectID string `json:"subject_id"`
		MimeType  string `json:"mime_type"`
		Data      []byte `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := s.store.Put(r.Context(), req.SubjectID, req.Data, req.MimeType)
	if err != nil {
		switch {
		case errors.Is(err, evidence.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("evidence store failed", "error", err)
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
		}
		return
	}
	status := http.StatusCreated
	if result.IsDuplicate {
		status = http.StatusOK
	}
	s.writeJSON(w, status, map[string]any{
		"id":           result.ID,
		"content_hash": result.ContentHash,
		"flags":        result.Flags,
		"risk_score":   result.RiskScore,
		"is_duplicate": result.IsDuplicate,
		"view_token":   result.ViewToken,
	})
}

// ReadEvidence returns the raw record only when the capability token
// matches. Wrong token and missing subject are the same 404.
func (s *Server) ReadEvidence(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	token := strings.TrimSpace(r.Header.Get("X-View-Token"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	record, err := s.store.ReadByToken(r.Context(), subject, token)
	if err != nil {
		if errors.Is(err, evidence.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.logger.Error("evidence read failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(*record, true))
}

// DistributeReward gates the recipient against the ban registry and then
// runs the three-way split. Soft-banned identities are deferred silently.
func (s *Server) DistributeReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string               `json:"recipient"`
		Amount    string               `json:"amount"`
		Proof     []rewards.ProofEntry `json:"proof"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	gate, err := s.registry.ShouldBlockReward(r.Context(), req.Recipient)
	if err != nil {
		if errors.Is(err, bans.ErrIdentityRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("ban check failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	if gate.Blocked {
		s.writeJSON(w, http.StatusForbidden, map[string]string{
			"error":  "rewards restricted",
			"reason": gate.Reason,
		})
		return
	}
	if gate.RequiresManualReview {
		// Deliberate silent deferral: the identity is not told a ban exists.
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	result, err := s.distributor.Distribute(r.Context(), req.Recipient, amount, req.Proof)
	if err != nil {
		switch {
		case errors.Is(err, rewards.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, rewards.ErrConfiguration):
			s.logger.Error("distributor misconfigured", "error", err)
			http.Error(w, "distribution unavailable", http.StatusInternalServerError)
		default:
			s.writeJSON(w, http.StatusBadGateway, map[string]any{
				"success":        false,
				"correlation_id": result.CorrelationID,
				"error":          "participant leg failed",
			})
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":            result.Success,
		"correlation_id":     result.CorrelationID,
		"participant_tx_ref": result.ParticipantTxRef,
		"creator_tx_ref":     result.CreatorTxRef,
		"app_tx_ref":         result.AppTxRef,
		"split": map[string]string{
			"participant":  result.Shares.Participant.String(),
			"creator_fund": result.Shares.CreatorFund.String(),
			"app_fund":     result.Shares.AppFund.String(),
		},
	})
}

// ListUnreviewed returns the manual-review queue, oldest first.
func (s *Server) ListUnreviewed(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListUnreviewed(r.Context())
	if err != nil {
		s.logger.Error("list unreviewed failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	views := make([]evidenceView, 0, len(records))
	for _, record := range records {
		views = append(views, viewOf(record, false))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// MarkReviewed stamps a record with the reviewer's decision.
func (s *Server) MarkReviewed(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid evidence id", http.StatusBadRequest)
		return
	}
	var req struct {
		Reviewer string   `json:"reviewer"`
		Flags    []string `json:"flags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.store.MarkReviewed(r.Context(), id, req.Reviewer, req.Flags); err != nil {
		switch {
		case errors.Is(err, evidence.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, evidence.ErrAlreadyReviewed):
			http.Error(w, "already reviewed", http.StatusConflict)
		case errors.Is(err, evidence.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("mark reviewed failed", "error", err)
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reviewed"})
}

// BanStatus reports the active ban for an identity.
func (s *Server) BanStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.CheckStatus(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		if errors.Is(err, bans.ErrIdentityRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("ban status failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"banned":    status.Banned,
		"ban_class": status.BanClass,
		"reason":    status.Reason,
	})
}

// AddBan activates a ban for an identity.
func (s *Server) AddBan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Class    string `json:"class"`
		Reason   string `json:"reason"`
		Actor    string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.registry.Add(r.Context(), req.Identity, req.Class, req.Reason, req.Actor); err != nil {
		switch {
		case errors.Is(err, bans.ErrIdentityRequired), errors.Is(err, bans.ErrInvalidClass):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("add ban failed", "error", err)
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "banned"})
}

// RemoveBan deactivates the current active ban, if any.
func (s *Server) RemoveBan(w http.ResponseWriter, r *http.Request) {
	removed, err := s.registry.Remove(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		if errors.Is(err, bans.ErrIdentityRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("remove ban failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// ListByCorrelation returns the attempt rows for one distribution event.
func (s *Server) ListByCorrelation(w http.ResponseWriter, r *http.Request) {
	correlationID, err := uuid.Parse(chi.URLParam(r, "correlation"))
	if err != nil {
		http.Error(w, "invalid correlation id", http.StatusBadRequest)
		return
	}
	attempts, err := s.ledger.ListByCorrelation(r.Context(), correlationID)
	if err != nil {
		s.logger.Error("list attempts failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, attempts)
}

// logRequests emits one structured line per request through the shared slog
// handler so access logs land in the same JSON stream as the rest of the
// service.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
