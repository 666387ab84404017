// Package http exposes the JSON API: auth, friends, groups, expenses,
// balances and settle-up.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"conti/internal/cache"
	"conti/internal/config"
	"conti/internal/core"
	"conti/internal/services"
)

// Store is the direct database surface the handlers need beyond what the
// services cover: accounts, groups and the deleted-friend name table.
type Store interface {
	CreateUser(ctx context.Context, u core.User) error
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	CreateGroup(ctx context.Context, g core.Group) error
	UpdateGroup(ctx context.Context, g core.Group) error
	GetGroup(ctx context.Context, id string) (core.Group, error)
	ListGroups(ctx context.Context, userID string) ([]core.Group, error)
	DeleteGroup(ctx context.Context, id string) error
	GetDeletedFriendName(ctx context.Context, friendID string) (string, error)
}

type Server struct {
	http.Server
	router   *mux.Router
	store    Store
	expenses *services.ExpenseService
	balances *services.BalanceService
	friends  *services.FriendService

	jwtSecret []byte
	tokenTTL  time.Duration

	rateLimiter *rateLimiter

	// Settlement plans are recomputed on every expense write, so cached
	// responses live only briefly and are dropped eagerly on writes.
	settleCache  cache.Cache[services.Settlement]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg *config.Config, store Store, expenses *services.ExpenseService, balances *services.BalanceService, friends *services.FriendService) *Server {
	router := mux.NewRouter()

	settleCache := cache.NewLRUCache[services.Settlement](500, 30*time.Second)
	cacheManager := cache.NewManager()
	cacheManager.Register(settleCache)

	s := &Server{
		router:       router,
		store:        store,
		expenses:     expenses,
		balances:     balances,
		friends:      friends,
		jwtSecret:    []byte(cfg.JWTSecret),
		tokenTTL:     cfg.TokenTTL,
		rateLimiter:  newRateLimiter(),
		settleCache:  settleCache,
		cacheManager: cacheManager,
	}

	s.setupRoutes()
	cacheManager.StartCleanup(10 * time.Minute)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}).Handler(s.withRequestLogging(router))

	s.Server = http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", handleHealth).Methods("GET")
	s.router.HandleFunc("/readyz", handleReady).Methods("GET")

	s.router.HandleFunc("/api/auth/signup", s.handleSignup).Methods("POST")
	s.router.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST")

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(s.authMiddleware)

	protected.HandleFunc("/friends", s.handleListFriends).Methods("GET")
	protected.HandleFunc("/friends", s.handleAddFriend).Methods("POST")
	protected.HandleFunc("/friends/{id}", s.handleRemoveFriend).Methods("DELETE")

	protected.HandleFunc("/groups", s.handleListGroups).Methods("GET")
	protected.HandleFunc("/groups", s.handleCreateGroup).Methods("POST")
	protected.HandleFunc("/groups/{id}", s.handleGetGroup).Methods("GET")
	protected.HandleFunc("/groups/{id}", s.handleUpdateGroup).Methods("PUT")
	protected.HandleFunc("/groups/{id}", s.handleDeleteGroup).Methods("DELETE")
	protected.HandleFunc("/groups/{id}/settle-up", s.handleGroupSettleUp).Methods("GET")

	protected.HandleFunc("/expenses", s.handleListExpenses).Methods("GET")
	protected.HandleFunc("/expenses", s.handleCreateExpense).Methods("POST")
	protected.HandleFunc("/expenses/{id}", s.handleGetExpense).Methods("GET")
	protected.HandleFunc("/expenses/{id}", s.handleUpdateExpense).Methods("PUT")
	protected.HandleFunc("/expenses/{id}", s.handlePatchExpenseAmount).Methods("PATCH")
	protected.HandleFunc("/expenses/{id}", s.handleDeleteExpense).Methods("DELETE")

	protected.HandleFunc("/balances", s.handleBalances).Methods("GET")
	protected.HandleFunc("/settle-up", s.handleSettleUp).Methods("GET")
}

// withRequestLogging adds security headers, a request id, rate limiting on
// writes and request logging.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		if isWrite(r.Method) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	})
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) invalidateSettlements(userID, groupID string) {
	s.settleCache.Delete("user:" + userID)
	if groupID != "" {
		s.settleCache.Delete("group:" + groupID)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
