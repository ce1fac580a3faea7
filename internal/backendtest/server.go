// Package backendtest runs an in-process fake of the monitoring backend
// (token issuance, identity, door status, user management) for tests.
package backendtest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const secret = "backendtest-secret"

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Status struct {
	State     string  `json:"state"`
	Temp      float64 `json:"temp"`
	Battery   float64 `json:"battery"`
	Timestamp string  `json:"timestamp"`
}

type user struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	Created  time.Time `json:"created"`
	hash     []byte
}

type Server struct {
	*httptest.Server

	mu            sync.Mutex
	users         map[string]*user
	nextID        int64
	status        Status
	history       []Status
	meStatus      int
	statusHandler gin.HandlerFunc
	failCreate    int
	failDelete    int
	calls         map[string]int
}

func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		users: make(map[string]*user),
		calls: make(map[string]int),
		status: Status{
			State:     "open",
			Temp:      22.4,
			Battery:   98,
			Timestamp: "2026-01-01T10:00:00",
		},
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.count)

	r.POST("/api/token", s.token)

	protected := r.Group("/api")
	protected.Use(requireAuth)
	protected.GET("/users/me", s.me)
	protected.GET("/door-status/latest", s.latest)
	protected.GET("/door-status/history", s.historyList)
	protected.GET("/users", requireAdmin, s.listUsers)
	protected.POST("/users", requireAdmin, s.createUser)
	protected.DELETE("/users/:id", requireAdmin, s.deleteUser)
	return r
}

func (s *Server) count(c *gin.Context) {
	s.mu.Lock()
	s.calls[c.Request.Method+" "+c.Request.URL.Path]++
	s.mu.Unlock()
	c.Next()
}

// Calls reports how many requests hit "METHOD /path".
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *Server) AddUser(username, password, role string) int64 {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.users[username] = &user{ID: s.nextID, Username: username, Role: role, Created: time.Now().UTC(), hash: hash}
	return s.nextID
}

func (s *Server) HasUser(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok
}

// UserRole reports the role string stored for username, "" if unknown.
func (s *Server) UserRole(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.users[username]; u != nil {
		return u.Role
	}
	return ""
}

func (s *Server) SetRole(username, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.users[username]; u != nil {
		u.Role = role
	}
}

func (s *Server) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *Server) SetHistory(h []Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = h
}

// SetStatusHandler replaces the latest-status endpoint, e.g. to stall or fail it.
func (s *Server) SetStatusHandler(h gin.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusHandler = h
}

// SetMeStatus makes /api/users/me answer with the given status code; 0 restores it.
func (s *Server) SetMeStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meStatus = code
}

func (s *Server) FailUserMutations(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = code
	s.failDelete = code
}

func IssueToken(username, role string, expiry time.Duration) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func verifyToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

func (s *Server) token(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")

	s.mu.Lock()
	u := s.users[username]
	s.mu.Unlock()
	if u == nil || bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Falscher Benutzer oder Passwort"})
		return
	}

	tok, err := IssueToken(u.Username, u.Role, time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Token creation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok, "token_type": "bearer", "refresh_token": "refresh-" + u.Username})
}

func requireAuth(c *gin.Context) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid authentication credentials"})
		return
	}
	claims, err := verifyToken(parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid authentication credentials"})
		return
	}
	c.Set("claims", claims)
	c.Next()
}

func requireAdmin(c *gin.Context) {
	claims := c.MustGet("claims").(*Claims)
	if claims.Role != "admin" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Keine Rechte"})
		return
	}
	c.Next()
}

func (s *Server) me(c *gin.Context) {
	s.mu.Lock()
	code := s.meStatus
	s.mu.Unlock()
	if code != 0 {
		c.JSON(code, gin.H{"detail": "unavailable"})
		return
	}

	claims := c.MustGet("claims").(*Claims)
	s.mu.Lock()
	u := s.users[claims.Subject]
	s.mu.Unlock()
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "User not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": u.ID, "username": u.Username, "role": u.Role, "created": u.Created})
}

func (s *Server) latest(c *gin.Context) {
	s.mu.Lock()
	h := s.statusHandler
	st := s.status
	s.mu.Unlock()
	if h != nil {
		h(c)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) historyList(c *gin.Context) {
	s.mu.Lock()
	h := append([]Status(nil), s.history...)
	s.mu.Unlock()
	if h == nil {
		h = []Status{}
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) listUsers(c *gin.Context) {
	s.mu.Lock()
	out := make([]user, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

type createUserBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) createUser(c *gin.Context) {
	s.mu.Lock()
	code := s.failCreate
	s.mu.Unlock()
	if code != 0 {
		c.JSON(code, gin.H{"detail": "create failed"})
		return
	}

	var body createUserBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request"})
		return
	}
	if s.HasUser(body.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "User existiert schon"})
		return
	}
	id := s.AddUser(body.Username, body.Password, body.Role)

	s.mu.Lock()
	u := *s.users[body.Username]
	s.mu.Unlock()
	c.JSON(http.StatusCreated, gin.H{"id": id, "username": u.Username, "role": u.Role, "created": u.Created})
}

func (s *Server) deleteUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid id"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != 0 {
		c.JSON(s.failDelete, gin.H{"detail": "delete failed"})
		return
	}
	for name, u := range s.users {
		if u.ID == id {
			delete(s.users, name)
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
}
