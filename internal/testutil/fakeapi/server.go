// Package fakeapi runs an in-process stand-in for the school API: login,
// identity and tenant endpoints with JWT tokens and sliding refresh.
package fakeapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// User is a tenant account known to the fake API.
type User struct {
	ID          int64
	Email       string
	FullName    string
	Password    string
	Inactive    bool
	Roles       []string
	Permissions []string
}

// Request is a recorded inbound request.
type Request struct {
	Method        string
	Path          string
	Authorization string
	Tenant        string
	HasTenant     bool
}

type failure struct {
	status int
	detail string
}

// Server is the fake API. Configure it before issuing requests.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	secret      []byte
	tenants     map[string]map[string]User
	admins      map[string]User
	refreshOnMe bool
	meFailure   *failure
	meHook      func(*http.Request)
	requests    []Request
}

// New starts a fake API. Close it with t.Cleanup(srv.Close).
func New() *Server {
	s := &Server{
		secret:  []byte("fakeapi-secret"),
		tenants: make(map[string]map[string]User),
		admins:  make(map[string]User),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("POST /api/auth/super-admin/login", s.superAdminLogin)
	mux.HandleFunc("GET /api/auth/me", s.me)
	mux.HandleFunc("GET /api/auth/super-admin/me", s.superAdminMe)
	mux.HandleFunc("GET /api/tenants", s.listTenants)
	s.Server = httptest.NewServer(s.record(mux))
	return s
}

// AddUser registers a user under a tenant slug.
func (s *Server) AddUser(tenant string, u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants[tenant] == nil {
		s.tenants[tenant] = make(map[string]User)
	}
	s.tenants[tenant][u.Email] = u
}

// AddSuperAdmin registers a platform administrator.
func (s *Server) AddSuperAdmin(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[u.Email] = u
}

// RefreshOnMe makes /auth/me answer with a new token in X-Refreshed-Token.
func (s *Server) RefreshOnMe(enabled bool) {
	s.mu.Lock()
	s.refreshOnMe = enabled
	s.mu.Unlock()
}

// FailMe forces /auth/me to fail with the given status and detail. Status 0 clears it.
func (s *Server) FailMe(status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		s.meFailure = nil
		return
	}
	s.meFailure = &failure{status: status, detail: detail}
}

// OnMe installs a hook run at the start of every /auth/me request.
func (s *Server) OnMe(hook func(*http.Request)) {
	s.mu.Lock()
	s.meHook = hook
	s.mu.Unlock()
}

// Requests returns the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the latest recorded request for path.
func (s *Server) LastRequest(path string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Path == path {
			return s.requests[i], true
		}
	}
	return Request{}, false
}

// Issue mints a token for a tenant user, as the login endpoint would.
func (s *Server) Issue(tenant string, userID int64) string {
	token, _ := s.sign(jwt.MapClaims{"sub": userID, "tenant": tenant})
	return token
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasTenant := r.Header[http.CanonicalHeaderKey("X-Tenant")]
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Tenant:        r.Header.Get("X-Tenant"),
			HasTenant:     hasTenant,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	tenant := r.Header.Get("X-Tenant")
	s.mu.Lock()
	users, ok := s.tenants[tenant]
	user, found := users[body.Username]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Tenant not found")
		return
	}
	if !found || user.Password != body.Password {
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if user.Inactive {
		writeDetail(w, http.StatusForbidden, "Inactive user")
		return
	}
	token, err := s.sign(jwt.MapClaims{"sub": user.ID, "tenant": tenant})
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) superAdminLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	admin, found := s.admins[body.Username]
	s.mu.Unlock()
	if !found || admin.Password != body.Password {
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token, err := s.sign(jwt.MapClaims{"sub": admin.ID, "super_admin": true})
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	hook := s.meHook
	fail := s.meFailure
	refresh := s.refreshOnMe
	s.mu.Unlock()
	if hook != nil {
		hook(r)
	}
	if fail != nil {
		writeDetail(w, fail.status, fail.detail)
		return
	}
	claims, err := s.parse(r)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	tenant := r.Header.Get("X-Tenant")
	user, ok := s.lookup(tenant, claims)
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	if refresh {
		if next, err := s.sign(jwt.MapClaims{"sub": user.ID, "tenant": tenant}); err == nil {
			w.Header().Set("X-Refreshed-Token", next)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          user.ID,
		"email":       user.Email,
		"full_name":   user.FullName,
		"is_active":   !user.Inactive,
		"roles":       nonNil(user.Roles),
		"permissions": nonNil(user.Permissions),
	})
}

func (s *Server) superAdminMe(w http.ResponseWriter, r *http.Request) {
	claims, err := s.parse(r)
	if err != nil || claims["super_admin"] != true {
		writeDetail(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	sub, _ := claims["sub"].(float64)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, admin := range s.admins {
		if admin.ID == int64(sub) {
			writeJSON(w, http.StatusOK, map[string]any{
				"id":          admin.ID,
				"email":       admin.Email,
				"full_name":   admin.FullName,
				"is_active":   true,
				"roles":       []string{"Super Administrator"},
				"permissions": []string{"tenants.manage", "settings.manage"},
				"super_admin": true,
			})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Super Administrator not found")
}

func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	if _, err := s.parse(r); err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	s.mu.Lock()
	out := make([]map[string]any, 0, len(s.tenants))
	var id int64
	for slug := range s.tenants {
		id++
		out = append(out, map[string]any{"id": id, "name": strings.ToUpper(slug), "slug": slug})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(tenant string, claims jwt.MapClaims) (User, bool) {
	sub, _ := claims["sub"].(float64)
	if claimTenant, _ := claims["tenant"].(string); claimTenant != tenant {
		return User{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.tenants[tenant] {
		if u.ID == int64(sub) {
			return u, true
		}
	}
	return User{}, false
}

func (s *Server) sign(claims jwt.MapClaims) (string, error) {
	now := time.Now()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(time.Hour).Unix()
	claims["jti"] = uuid.NewString()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) parse(r *http.Request) (jwt.MapClaims, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New("missing bearer")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
