package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/oceandive/divetrack/backend/internal/config"
	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/internal/services"
	"github.com/oceandive/divetrack/backend/internal/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var handlerDBSeq int64

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:handler_test_%d?mode=memory&cache=shared", atomic.AddInt64(&handlerDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}, &models.RefreshToken{}, &models.AuditLog{}, &models.SystemConfig{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newAuthTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)

	authCfg := &config.AuthConfig{
		Secret:                   "test-secret-key-for-testing",
		AccessTokenExpireMinutes: 15,
		RefreshTokenExpireHours:  720,
		ReplayMaxAgeHours:        168,
		MaxActiveSessions:        5,
		RotateRefreshTokens:      true,
		AuditEnabled:             true,
		CookieSameSite:           "lax",
	}

	codec := utils.NewJWTCodec(authCfg)
	store := services.NewRefreshTokenStore(db)
	audit := services.NewAuditLogger(services.NewSyncAuditSink(db), authCfg)
	tokenService := services.NewTokenService(db, store, codec, audit, authCfg)
	authService := services.NewAuthService(db, tokenService, services.NewGoogleVerifier(&config.GoogleConfig{}))

	h := NewAuthHandler(authService, tokenService, authCfg)

	r := gin.New()
	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/refresh", h.Refresh)
	r.POST("/api/auth/logout", h.Logout)
	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range w.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	t.Fatal("refresh_token cookie not set")
	return nil
}

func registerBody(username string) gin.H {
	return gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "divemaster-pass",
	}
}

func TestRegister_SetsHTTPOnlyCookie(t *testing.T) {
	r, _ := newAuthTestRouter(t)

	w := doJSON(t, r, "POST", "/api/auth/register", registerBody("diver"))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	cookie := refreshCookie(t, w)
	if !cookie.HttpOnly {
		t.Error("refresh cookie must be HttpOnly")
	}
	if cookie.Value == "" {
		t.Error("refresh cookie is empty")
	}
	if cookie.MaxAge != 720*3600 {
		t.Errorf("cookie MaxAge = %d, expected %d", cookie.MaxAge, 720*3600)
	}

	// The refresh token never appears in the body
	if strings.Contains(w.Body.String(), cookie.Value) {
		t.Error("refresh token leaked into response body")
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.AccessToken == "" || resp.TokenType != "bearer" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	r, _ := newAuthTestRouter(t)
	doJSON(t, r, "POST", "/api/auth/register", registerBody("diver"))

	w := doJSON(t, r, "POST", "/api/auth/login", gin.H{"username": "diver", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, expected 401", w.Code)
	}
}

func TestRefresh_RotatesCookie(t *testing.T) {
	r, _ := newAuthTestRouter(t)

	reg := doJSON(t, r, "POST", "/api/auth/register", registerBody("diver"))
	oldCookie := refreshCookie(t, reg)

	w := doJSON(t, r, "POST", "/api/auth/refresh", nil, oldCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	newCookie := refreshCookie(t, w)
	if newCookie.Value == oldCookie.Value {
		t.Error("refresh must rotate the cookie value")
	}

	// The consumed cookie is dead now
	replay := doJSON(t, r, "POST", "/api/auth/refresh", nil, oldCookie)
	if replay.Code != http.StatusUnauthorized {
		t.Errorf("replayed cookie status = %d, expected 401", replay.Code)
	}
}

func TestRefresh_UniformRejection(t *testing.T) {
	r, _ := newAuthTestRouter(t)

	reg := doJSON(t, r, "POST", "/api/auth/register", registerBody("diver"))
	consumed := refreshCookie(t, reg)
	doJSON(t, r, "POST", "/api/auth/refresh", nil, consumed)

	cases := map[string]*http.Cookie{
		"missing":   nil,
		"malformed": {Name: "refresh_token", Value: "not-a-token"},
		"unknown":   {Name: "refresh_token", Value: "diver:00000000-0000-0000-0000-000000000000:1700000000"},
		"consumed":  consumed,
	}

	var bodies []string
	for name, cookie := range cases {
		var w *httptest.ResponseRecorder
		if cookie == nil {
			w = doJSON(t, r, "POST", "/api/auth/refresh", nil)
		} else {
			w = doJSON(t, r, "POST", "/api/auth/refresh", nil, cookie)
		}
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, expected 401", name, w.Code)
		}
		bodies = append(bodies, w.Body.String())
	}

	// Every rejection looks identical
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("rejection bodies differ: %s vs %s", bodies[0], bodies[i])
		}
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	r, _ := newAuthTestRouter(t)

	reg := doJSON(t, r, "POST", "/api/auth/register", registerBody("diver"))
	cookie := refreshCookie(t, reg)

	w := doJSON(t, r, "POST", "/api/auth/logout", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	cleared := refreshCookie(t, w)
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Errorf("cookie not cleared: value=%q maxage=%d", cleared.Value, cleared.MaxAge)
	}

	// Logged-out session no longer refreshes
	refresh := doJSON(t, r, "POST", "/api/auth/refresh", nil, cookie)
	if refresh.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, expected 401", refresh.Code)
	}
}

func TestLogout_IdempotentWithDeadToken(t *testing.T) {
	r, _ := newAuthTestRouter(t)

	w := doJSON(t, r, "POST", "/api/auth/logout", nil, &http.Cookie{Name: "refresh_token", Value: "garbage"})
	if w.Code != http.StatusOK {
		t.Errorf("logout with dead token status = %d, expected 200", w.Code)
	}
}
