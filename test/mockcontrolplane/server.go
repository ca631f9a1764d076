// Package mockcontrolplane is an in-memory stand-in for the rental control
// plane, used for development and end-to-end tests. It implements the real
// API surface: signup/login with HS256 bearer tokens, the node listing with
// per-role visibility, and the rent/release/extend/reveal lifecycle.
package mockcontrolplane

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const defaultTokenTTL = time.Hour

var (
	errNotFound  = errors.New("rental not found")
	errForbidden = errors.New("not your rental")
)

// Server wraps the gin router and state for the mock control plane.
type Server struct {
	state        *State
	router       *gin.Engine
	secret       []byte
	tokenTTL     time.Duration
	loginLimiter *rate.Limiter
}

// Option configures the server
type Option func(*Server)

// WithSecret sets the token signing secret
func WithSecret(secret []byte) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithTokenTTL sets the lifetime of minted tokens
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = ttl
	}
}

// WithLoginRate overrides the login throttle
func WithLoginRate(r rate.Limit, burst int) Option {
	return func(s *Server) {
		s.loginLimiter = rate.NewLimiter(r, burst)
	}
}

// NewServer creates a mock control-plane server with the given state.
func NewServer(state *State, opts ...Option) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		state:        state,
		router:       gin.New(),
		secret:       []byte("mock-control-plane-secret"),
		tokenTTL:     defaultTokenTTL,
		loginLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 20),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// State returns the underlying state for test setup.
func (s *Server) State() *State {
	return s.state
}

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.POST("/api/signup", s.handleSignup)
	s.router.POST("/api/login", s.handleLogin)

	authed := s.router.Group("/api")
	authed.Use(s.requireAuth)
	{
		authed.GET("/nodes", s.handleNodes)
		authed.POST("/rent", s.handleRent)
		authed.POST("/release/:id", s.handleRelease)
		authed.POST("/extend/:id", s.handleExtend)
		authed.GET("/lease/:id/password", s.handlePassword)
	}

	// Test control endpoints, not part of the real API.
	s.router.POST("/_test/reset", s.handleReset)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if _, err := s.state.CreateUser(req.Username, req.Password, "user"); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "account created"})
}

// handleLogin authenticates and mints a token. Bad credentials answer 403,
// not 401: a 401 means a previously valid token went stale and tears the
// client session down, which is the wrong outcome for a typo at the prompt.
func (s *Server) handleLogin(c *gin.Context) {
	if !s.loginLimiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts, slow down"})
		return
	}

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := s.state.Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid username or password"})
		return
	}

	token := SignToken(s.secret, TokenClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		Exp:      time.Now().Add(s.tokenTTL).Unix(),
	})
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleNodes(c *gin.Context) {
	user := currentUser(c)

	nodes := s.state.NodesFor(user)
	if len(nodes) == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "no active node rentals"})
		return
	}
	c.JSON(http.StatusOK, nodes)
}

type rentRequest struct {
	DurationHours int    `json:"duration_hours"`
	Count         int    `json:"count"`
	SSHPassword   string `json:"ssh_password"`
}

func (s *Server) handleRent(c *gin.Context) {
	user := currentUser(c)

	var req rentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.DurationHours <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_hours must be positive"})
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}

	allocated, err := s.state.Rent(user, req.DurationHours, req.Count, req.SSHPassword)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocated": allocated})
}

func (s *Server) handleRelease(c *gin.Context) {
	user := currentUser(c)
	rentalID, ok := rentalParam(c)
	if !ok {
		return
	}

	if err := s.state.Release(rentalID, user); err != nil {
		writeStateError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("rental %d released", rentalID)})
}

func (s *Server) handleExtend(c *gin.Context) {
	user := currentUser(c)
	rentalID, ok := rentalParam(c)
	if !ok {
		return
	}

	var req struct {
		AdditionalHours int `json:"additional_hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.AdditionalHours <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "additional_hours must be positive"})
		return
	}

	until, err := s.state.Extend(rentalID, user, req.AdditionalHours)
	if err != nil {
		writeStateError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leased_until": until.UTC().Format(time.RFC3339)})
}

func (s *Server) handlePassword(c *gin.Context) {
	user := currentUser(c)
	rentalID, ok := rentalParam(c)
	if !ok {
		return
	}

	pass, err := s.state.Password(rentalID, user)
	if err != nil {
		writeStateError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ssh_password": pass})
}

func (s *Server) handleReset(c *gin.Context) {
	s.state.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "state reset"})
}

// requireAuth verifies the bearer token and stashes the account on the
// request context.
func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	claims, err := VerifyToken(s.secret, token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	s.state.mu.RLock()
	user, ok := s.state.users[claims.Username]
	s.state.mu.RUnlock()
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
		return
	}

	c.Set("user", user)
	c.Next()
}

func currentUser(c *gin.Context) *User {
	return c.MustGet("user").(*User)
}

func rentalParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rental id"})
		return 0, false
	}
	return id, true
}

func writeStateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// TokenClaims is the signed token payload.
type TokenClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Exp      int64  `json:"exp"`
}

// SignToken mints an HS256 token for the given claims. Exported so tests
// can craft expired or otherwise unusual tokens.
func SignToken(secret []byte, claims TokenClaims) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, _ := json.Marshal(claims)
	body := header + "." + base64.RawURLEncoding.EncodeToString(payload)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(body))
	return body + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyToken checks the signature and expiry of a token.
func VerifyToken(secret []byte, token string) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed token")
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, fmt.Errorf("bad signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed payload")
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("malformed payload")
	}
	if time.Now().Unix() >= claims.Exp {
		return nil, fmt.Errorf("token expired")
	}
	return &claims, nil
}
