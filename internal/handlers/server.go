package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/mesh-intelligence/crudkit/internal/metrics"
	"github.com/mesh-intelligence/crudkit/internal/principal"
	"github.com/mesh-intelligence/crudkit/pkg/controller"
	"github.com/mesh-intelligence/crudkit/pkg/store"
	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// RequestIDHeader echoes the id assigned to each request.
const RequestIDHeader = "X-Request-Id"

// Options configures the service router.
type Options struct {
	Backend *store.Backend

	// Logger is the base logger. Each request logs through a child carrying
	// its request_id. Default: the slog default logger.
	Logger *clog.Logger

	// Principal supplies SysUser for saved entities. Default: the principal
	// from PrincipalHeader, falling back to "system".
	Principal types.PrincipalProvider

	// PrincipalHeader names the request header carrying the principal.
	// Default: X-Sys-User.
	PrincipalHeader string

	// Metrics, when set, receives controller outcomes and is served on
	// /metrics.
	Metrics *metrics.Recorder
}

// Server routes requests to the Person and Activity controllers.
type Server struct {
	opts       Options
	mux        *http.ServeMux
	handler    http.Handler
	persons    *controller.Controller[types.Person]
	activities *controller.Controller[types.Activity]
}

// NewServer builds the router.
//
//	/person/...                         Person controller
//	/activity/...                       Activity controller
//	GET /person/activities              activities via the shared controller
//	GET /person/activities/instantiated activities via a per-request controller
//	GET /person/activities/page         untracked page (?skip=&take=)
//	GET /healthz                        backend ping
//	GET /metrics                        Prometheus, when configured
func NewServer(opts Options) (*Server, error) {
	if opts.Backend == nil {
		return nil, errors.New("handlers: backend is required")
	}
	if opts.Logger == nil {
		opts.Logger = clog.NewLogger(slog.Default())
	}
	if opts.Principal == nil {
		opts.Principal = principal.Provider{Default: "system"}
	}

	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.persons = controller.New[types.Person](PersonHandler{}, opts.Backend, opts.Principal, opts.Logger, s.controllerOpts()...)
	s.activities = s.newActivities()

	s.persons.Mount(s.mux, "/person")
	s.activities.Mount(s.mux, "/activity")

	s.mux.HandleFunc("GET /person/activities", s.personActivities)
	s.mux.HandleFunc("GET /person/activities/instantiated", s.personActivitiesInstantiated)
	s.mux.HandleFunc("GET /person/activities/page", s.personActivitiesPage)
	s.mux.HandleFunc("GET /healthz", s.healthz)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	s.handler = s.withRequestLogger(principal.Middleware(opts.PrincipalHeader, s.mux))
	return s, nil
}

func (s *Server) controllerOpts() []controller.Option {
	if s.opts.Metrics == nil {
		return nil
	}
	return []controller.Option{controller.WithRecorder(s.opts.Metrics)}
}

func (s *Server) newActivities() *controller.Controller[types.Activity] {
	return controller.New[types.Activity](ActivityHandler{}, s.opts.Backend, s.opts.Principal, s.opts.Logger, s.controllerOpts()...)
}

// Persons returns the Person controller.
func (s *Server) Persons() *controller.Controller[types.Person] { return s.persons }

// Activities returns the Activity controller.
func (s *Server) Activities() *controller.Controller[types.Activity] { return s.activities }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) personActivities(w http.ResponseWriter, r *http.Request) {
	controller.WriteResult(w, s.activities.List(r.Context()))
}

// personActivitiesInstantiated builds an Activity controller for this
// request only, sharing one unit of work with anything else the request
// touches.
func (s *Server) personActivitiesInstantiated(w http.ResponseWriter, r *http.Request) {
	ctx := store.WithSession(r.Context(), s.opts.Backend.NewSession())
	controller.WriteResult(w, s.newActivities().List(ctx))
}

func (s *Server) personActivitiesPage(w http.ResponseWriter, r *http.Request) {
	skip, err1 := queryInt(r, "skip")
	take, err2 := queryInt(r, "take")
	if err := errors.Join(err1, err2); err != nil {
		controller.WriteJSON(w, http.StatusBadRequest, controller.ErrorBody{Error: err.Error()})
		return
	}
	page, err := store.Page[types.Activity](r.Context(), s.opts.Backend.NewSession(), skip, take)
	if err != nil {
		clog.FromContext(r.Context()).ErrorContext(r.Context(), "paging activities failed", "error", err)
		controller.WriteJSON(w, http.StatusInternalServerError, controller.ErrorBody{Error: err.Error()})
		return
	}
	controller.WriteJSON(w, http.StatusOK, page)
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	db := s.opts.Backend.DB()
	if db == nil {
		controller.WriteJSON(w, http.StatusServiceUnavailable, controller.ErrorBody{Error: types.ErrBackendDetached.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		controller.WriteJSON(w, http.StatusServiceUnavailable, controller.ErrorBody{Error: err.Error()})
		return
	}
	controller.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// withRequestLogger assigns each request a UUID v7, echoes it in
// X-Request-Id and logs through a child logger carrying it.
func (s *Server) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		log := s.opts.Logger.With("request_id", id.String())
		w.Header().Set(RequestIDHeader, id.String())

		ctx := controller.WithLogger(r.Context(), log)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		log.DebugContext(ctx, "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start))
	})
}
