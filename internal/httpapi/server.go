package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stacks/internal/budget"
	"stacks/internal/logging"
	"stacks/internal/queue"
)

// BudgetReader is the read-only budget surface the API exposes.
type BudgetReader interface {
	Status(ctx context.Context) (*budget.Status, error)
	Ledger(ctx context.Context, limit int) ([]*queue.LedgerEntry, error)
}

// Server serves the read-only JSON status API.
type Server struct {
	store  *queue.Store
	budget BudgetReader
	logger *slog.Logger
}

// New creates an API server over the queue store and budget controller.
func New(store *queue.Store, budgetReader BudgetReader, logger *slog.Logger) *Server {
	return &Server{
		store:  store,
		budget: budgetReader,
		logger: logging.NewComponentLogger(logger, "httpapi"),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/queue", s.handleQueue)
		r.Get("/budget", s.handleBudget)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

type statusResponse struct {
	Queue queue.HealthSummary    `json:"queue"`
	Jobs  map[queue.JobState]int `json:"jobs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	health, err := s.store.Health(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jobs, err := s.store.JobStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, statusResponse{Queue: health, Jobs: jobs})
}

type queueEntryResponse struct {
	ID           int64     `json:"id"`
	DedupKey     string    `json:"dedup_key"`
	Title        string    `json:"title"`
	Author       string    `json:"author,omitempty"`
	Series       string    `json:"series,omitempty"`
	Sequence     int       `json:"sequence,omitempty"`
	Reason       string    `json:"reason"`
	Priority     int       `json:"priority"`
	State        string    `json:"state"`
	ReviewNote   string    `json:"review_note,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var states []queue.EntryState
	if raw := r.URL.Query().Get("state"); raw != "" {
		state, ok := queue.ParseEntryState(raw)
		if !ok {
			http.Error(w, "unknown state "+raw, http.StatusBadRequest)
			return
		}
		states = append(states, state)
	}

	entries, err := s.store.ListEntries(r.Context(), states...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload := make([]queueEntryResponse, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, queueEntryResponse{
			ID:           entry.ID,
			DedupKey:     entry.DedupKey,
			Title:        entry.Title,
			Author:       entry.Author,
			Series:       entry.Series,
			Sequence:     entry.Sequence,
			Reason:       string(entry.Reason),
			Priority:     entry.Priority,
			State:        string(entry.State),
			ReviewNote:   entry.ReviewNote,
			DiscoveredAt: entry.DiscoveredAt,
			UpdatedAt:    entry.UpdatedAt,
		})
	}
	s.respond(w, map[string]any{"entries": payload})
}

type budgetResponse struct {
	Balance          int64                `json:"balance"`
	BufferFloor      int64                `json:"buffer_floor"`
	HardCap          int64                `json:"hard_cap"`
	MembershipExpiry time.Time            `json:"membership_expiry"`
	DaysRemaining    int                  `json:"days_remaining"`
	EarnRate         float64              `json:"earn_rate"`
	Signal           string               `json:"signal"`
	Ledger           []ledgerItemResponse `json:"ledger"`
}

type ledgerItemResponse struct {
	CreatedAt        time.Time `json:"created_at"`
	Kind             string    `json:"kind"`
	Amount           int64     `json:"amount"`
	ResultingBalance int64     `json:"resulting_balance"`
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	status, err := s.budget.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ledger, err := s.budget.Ledger(r.Context(), 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload := budgetResponse{
		Balance:          status.Balance,
		BufferFloor:      status.BufferFloor,
		HardCap:          status.HardCap,
		MembershipExpiry: status.MembershipExpiry,
		DaysRemaining:    status.DaysRemaining,
		EarnRate:         status.EarnRate,
		Signal:           string(status.Signal),
	}
	for _, item := range ledger {
		payload.Ledger = append(payload.Ledger, ledgerItemResponse{
			CreatedAt:        item.CreatedAt,
			Kind:             string(item.Kind),
			Amount:           item.Amount,
			ResultingBalance: item.ResultingBalance,
		})
	}
	s.respond(w, payload)
}

func (s *Server) respond(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response failed", logging.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		logging.String("path", r.URL.Path),
		logging.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
