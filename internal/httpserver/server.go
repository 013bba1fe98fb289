package httpserver

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/BeskiJoseph/interview/internal/config"
	"github.com/BeskiJoseph/interview/internal/interview"
	"github.com/BeskiJoseph/interview/internal/llm"
	"github.com/BeskiJoseph/interview/internal/store"
)

// Deps are the service collaborators the HTTP surface exposes.
type Deps struct {
	Generator interview.Generator
	Keys      *llm.GeminiClient
	Store     *store.Gateway
}

// Server exposes the interview API: session lifecycle over REST and the live
// interview channel over a websocket.
type Server struct {
	Echo *echo.Echo

	cfg  config.Config
	deps Deps

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	session *interview.Session
	notify  *relayNotifier
}

// New constructs the server and registers all routes.
func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		Echo: echo.New(),
		cfg:  cfg,
		deps: deps,
		live: make(map[string]*liveSession),
	}
	s.Echo.HideBanner = true
	s.Echo.Use(middleware.Logger())
	s.Echo.Use(middleware.Recover())

	s.Echo.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	s.Echo.POST("/api/sessions", s.createSession)
	s.Echo.GET("/api/sessions", s.listSessions)
	s.Echo.GET("/api/sessions/:id", s.getSession)
	s.Echo.DELETE("/api/sessions", s.clearSessions)
	s.Echo.POST("/api/sessions/:id/complete", s.completeSession)
	s.Echo.POST("/api/key/validate", s.validateKey)
	s.Echo.GET("/api/sessions/:id/live", s.liveChannel)
	return s
}

// Router returns the handler for an http.Server.
func (s *Server) Router() http.Handler { return s.Echo }

type createSessionRequest struct {
	Role           string `json:"role"`
	SkillLevel     string `json:"skillLevel"`
	JobDescription string `json:"jobDescription"`
}

type createSessionResponse struct {
	SessionID string          `json:"sessionId"`
	State     interview.State `json:"state"`
}

// createSession sets up a session in the Setup state. The interview itself
// begins when the live channel attaches.
func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	if req.Role == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "role is required"})
	}

	id := uuid.NewString()
	notify := &relayNotifier{}
	session := interview.NewSession(id, interview.Profile{
		Role:           req.Role,
		SkillLevel:     req.SkillLevel,
		JobDescription: req.JobDescription,
	}, interview.Deps{
		Generator: s.deps.Generator,
		Store:     s.deps.Store,
		Notifier:  notify,
	}, interview.Options{Voice: s.cfg.DeepgramTTSModel})

	s.mu.Lock()
	s.live[id] = &liveSession{session: session, notify: notify}
	s.mu.Unlock()

	log.Printf("session %s created for role %q", id, req.Role)
	return c.JSON(http.StatusCreated, createSessionResponse{SessionID: id, State: session.State()})
}

func (s *Server) listSessions(c echo.Context) error {
	records, err := s.deps.Store.LoadAll(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not list sessions"})
	}
	if records == nil {
		records = []interview.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

// getSession serves the live snapshot when the session is in memory and the
// persisted record otherwise.
func (s *Server) getSession(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	entry, ok := s.live[id]
	s.mu.Unlock()
	if ok {
		return c.JSON(http.StatusOK, entry.session.Record())
	}

	rec, err := s.deps.Store.Load(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not load session"})
	}
	return c.JSON(http.StatusOK, rec)
}

// clearSessions is the administrative wipe: live sessions are torn down and
// both persistence tiers cleared.
func (s *Server) clearSessions(c echo.Context) error {
	s.mu.Lock()
	entries := make([]*liveSession, 0, len(s.live))
	for _, entry := range s.live {
		entries = append(entries, entry)
	}
	s.live = make(map[string]*liveSession)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.session.Close()
	}
	if err := s.deps.Store.Clear(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not clear sessions"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) completeSession(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	entry, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active session"})
	}

	rec, err := entry.session.Complete(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}

	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, rec)
}

type validateKeyRequest struct {
	Key string `json:"key"`
}

type validateKeyResponse struct {
	Status llm.KeyStatus `json:"status"`
}

// validateKey probes the candidate credential and commits it only when the
// endpoint accepts it.
func (s *Server) validateKey(c echo.Context) error {
	var req validateKeyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	status := s.deps.Keys.ValidateKey(c.Request().Context(), req.Key)
	if status == llm.KeyValid {
		s.deps.Keys.SetKey(req.Key)
	}
	return c.JSON(http.StatusOK, validateKeyResponse{Status: status})
}

func (s *Server) takeLive(id string) (*liveSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live[id]
	return entry, ok
}

func (s *Server) dropLive(id string) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}
