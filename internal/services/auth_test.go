package services

import (
	"testing"

	"github.com/oceandive/divetrack/backend/internal/config"
	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/internal/utils"
	"gorm.io/gorm"
)

func newTestAuthService(t *testing.T) (*AuthService, *TokenService, *gorm.DB) {
	t.Helper()

	cfg := testAuthConfig()
	tokens, db, _ := newTestTokenService(t, cfg)
	auth := NewAuthService(db, tokens, NewGoogleVerifier(&config.GoogleConfig{}))
	return auth, tokens, db
}

func registerTestUser(t *testing.T, auth *AuthService, username string) *LoginResult {
	t.Helper()

	result, err := auth.Register(&RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "divemaster-pass",
	}, testCtx)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return result
}

func TestRegisterAndLogin(t *testing.T) {
	auth, _, _ := newTestAuthService(t)

	result := registerTestUser(t, auth, "diver")
	if result.User.Role != "user" {
		t.Errorf("Role = %q, expected %q", result.User.Role, "user")
	}
	if result.Pair == nil || result.Pair.AccessToken == "" || result.Pair.RefreshToken == "" {
		t.Fatal("registration should open a session")
	}

	login, err := auth.Login(&LoginRequest{Username: "diver", Password: "divemaster-pass"}, testCtx)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.User.LastLogin == nil {
		t.Error("LastLogin not set")
	}
}

func TestLogin_UniformRejection(t *testing.T) {
	auth, _, _ := newTestAuthService(t)
	registerTestUser(t, auth, "diver")

	_, errWrongPass := auth.Login(&LoginRequest{Username: "diver", Password: "wrong"}, testCtx)
	_, errNoUser := auth.Login(&LoginRequest{Username: "ghost", Password: "whatever"}, testCtx)

	if errWrongPass == nil || errNoUser == nil {
		t.Fatal("both logins should fail")
	}
	// Unknown user and wrong password are indistinguishable
	if errWrongPass.Error() != errNoUser.Error() {
		t.Errorf("rejections differ: %q vs %q", errWrongPass, errNoUser)
	}
}

func TestLogin_DisabledUser(t *testing.T) {
	auth, _, db := newTestAuthService(t)
	result := registerTestUser(t, auth, "diver")

	db.Model(result.User).Update("is_active", false)

	if _, err := auth.Login(&LoginRequest{Username: "diver", Password: "divemaster-pass"}, testCtx); err == nil {
		t.Error("disabled user should not log in")
	}
}

func TestRegister_RejectsColonUsernames(t *testing.T) {
	auth, _, _ := newTestAuthService(t)

	bad := []string{"with:colon", "with space", "with\ttab"}
	for _, username := range bad {
		_, err := auth.Register(&RegisterRequest{
			Username: username,
			Email:    "x@example.com",
			Password: "divemaster-pass",
		}, testCtx)
		if err == nil {
			t.Errorf("Register(%q) should fail", username)
		}
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	auth, _, _ := newTestAuthService(t)
	registerTestUser(t, auth, "diver")

	_, err := auth.Register(&RegisterRequest{
		Username: "diver",
		Email:    "other@example.com",
		Password: "divemaster-pass",
	}, testCtx)
	if err == nil {
		t.Error("duplicate username should be rejected")
	}
}

func TestRegister_Closed(t *testing.T) {
	auth, _, db := newTestAuthService(t)

	configSvc := NewSystemConfigService(db)
	if err := configSvc.Set("registration_enabled", "false"); err != nil {
		t.Fatal(err)
	}

	_, err := auth.Register(&RegisterRequest{
		Username: "diver",
		Email:    "diver@example.com",
		Password: "divemaster-pass",
	}, testCtx)
	if err == nil {
		t.Error("registration should be closed")
	}
}

func TestChangePassword_RevokesAllSessions(t *testing.T) {
	auth, tokens, _ := newTestAuthService(t)
	result := registerTestUser(t, auth, "diver")

	// A second session
	second, err := auth.Login(&LoginRequest{Username: "diver", Password: "divemaster-pass"}, testCtx)
	if err != nil {
		t.Fatal(err)
	}

	err = auth.ChangePassword(result.User.ID, &ChangePasswordRequest{
		OldPassword: "divemaster-pass",
		NewPassword: "even-better-pass",
	}, testCtx)
	if err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	for name, token := range map[string]string{
		"first":  result.Pair.RefreshToken,
		"second": second.Pair.RefreshToken,
	} {
		if _, err := tokens.RefreshAccessToken(token, testCtx); err == nil {
			t.Errorf("%s session survived password change", name)
		}
	}

	// Old password no longer works, new one does
	if _, err := auth.Login(&LoginRequest{Username: "diver", Password: "divemaster-pass"}, testCtx); err == nil {
		t.Error("old password should be rejected")
	}
	if _, err := auth.Login(&LoginRequest{Username: "diver", Password: "even-better-pass"}, testCtx); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	auth, _, _ := newTestAuthService(t)
	result := registerTestUser(t, auth, "diver")

	err := auth.ChangePassword(result.User.ID, &ChangePasswordRequest{
		OldPassword: "nope",
		NewPassword: "even-better-pass",
	}, testCtx)
	if err == nil {
		t.Error("wrong old password should be rejected")
	}
}

func TestGoogleLogin_Disabled(t *testing.T) {
	auth, _, _ := newTestAuthService(t)

	if auth.IsGoogleLoginEnabled() {
		t.Error("google login should be disabled without a client id")
	}

	if _, err := auth.GoogleLogin(&GoogleLoginRequest{IDToken: "whatever"}, testCtx); err == nil {
		t.Error("GoogleLogin should fail when disabled")
	}
}

func TestCreateAdminIfNotExists(t *testing.T) {
	auth, _, db := newTestAuthService(t)

	if err := auth.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("CreateAdminIfNotExists() error = %v", err)
	}
	// Idempotent
	if err := auth.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("second CreateAdminIfNotExists() error = %v", err)
	}

	var admins []models.User
	db.Where("role = ?", "admin").Find(&admins)
	if len(admins) != 1 {
		t.Fatalf("admins = %d, expected 1", len(admins))
	}
	if !utils.CheckPassword("admin", admins[0].Password) {
		t.Error("default admin password not set")
	}
}

func TestGoogleUsername(t *testing.T) {
	tests := []struct {
		email    string
		expected string
	}{
		{"diver@example.com", "diver"},
		{"a:b@example.com", "a_b"},
		{"noat", "noat"},
	}

	for _, tt := range tests {
		if got := googleUsername(tt.email); got != tt.expected {
			t.Errorf("googleUsername(%q) = %q, expected %q", tt.email, got, tt.expected)
		}
	}
}
