package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/autoharvest/internal/crawler"
	"github.com/JakeFAU/autoharvest/internal/metrics"
)

// LedgerView is the read side of the progress ledger.
type LedgerView interface {
	Snapshot() map[string]crawler.EntityProgress
	Lookup(entity string) (crawler.EntityProgress, bool)
}

// ReadyFunc reports whether the harvest is ready; a non-nil error is shown
// to the caller.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the ledger.
type Server struct {
	router chi.Router
	ledger LedgerView
	ready  ReadyFunc
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(ledger LedgerView, ready ReadyFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger: ledger,
		ready:  ready,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/ledger", func(r chi.Router) {
		r.Get("/", s.listLedger)
		r.Get("/{entity}", s.getEntity)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type entityView struct {
	Entity      string                          `json:"entity"`
	Status      string                          `json:"status"`
	LastCursor  string                          `json:"last_cursor,omitempty"`
	ItemsDone   int                             `json:"items_done"`
	SubProgress map[string]crawler.ItemProgress `json:"sub_progress,omitempty"`
}

type ledgerView struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	Entities []entityView   `json:"entities"`
}

func toEntityView(entity string, rec crawler.EntityProgress, withItems bool) entityView {
	v := entityView{Entity: entity, Status: string(rec.Status), LastCursor: rec.LastCursor}
	for _, item := range rec.SubProgress {
		if item.Reviewed {
			v.ItemsDone++
		}
	}
	if withItems {
		v.SubProgress = rec.SubProgress
	}
	return v
}

func (s *Server) listLedger(w http.ResponseWriter, r *http.Request) {
	snap := s.ledger.Snapshot()
	status := r.URL.Query().Get("status")
	out := ledgerView{ByStatus: map[string]int{}, Entities: []entityView{}}
	for entity, rec := range snap {
		out.Total++
		out.ByStatus[string(rec.Status)]++
		if status != "" && string(rec.Status) != status {
			continue
		}
		out.Entities = append(out.Entities, toEntityView(entity, rec, false))
	}
	sort.Slice(out.Entities, func(i, j int) bool { return out.Entities[i].Entity < out.Entities[j].Entity })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := url.PathUnescape(chi.URLParam(r, "entity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity")
		return
	}
	rec, ok := s.ledger.Lookup(entity)
	if !ok {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, toEntityView(entity, rec, true))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
