package services

import (
	"errors"
	"strings"
	"time"

	"github.com/oceandive/divetrack/backend/internal/models"
	"github.com/oceandive/divetrack/backend/internal/utils"
	"gorm.io/gorm"
)

var (
	errInvalidCredentials  = errors.New("invalid username or password")
	errUserDisabled        = errors.New("user is disabled")
	errRegistrationClosed  = errors.New("registration is disabled")
	errUsernameTaken       = errors.New("username already taken")
	errEmailTaken          = errors.New("email already registered")
	errGoogleLoginDisabled = errors.New("google login is disabled")
)

type AuthService struct {
	db        *gorm.DB
	tokens    *TokenService
	google    *GoogleVerifier
	configSvc *SystemConfigService
}

func NewAuthService(db *gorm.DB, tokens *TokenService, google *GoogleVerifier) *AuthService {
	return &AuthService{
		db:        db,
		tokens:    tokens,
		google:    google,
		configSvc: NewSystemConfigService(db),
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Nickname string `json:"nickname"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

type LoginResult struct {
	User *models.User `json:"user"`
	Pair *TokenPair   `json:"-"`
}

// Login authenticates a local user and opens a session.
func (s *AuthService) Login(req *LoginRequest, ctx RequestContext) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("username = ? AND auth_type = ?", req.Username, "local").First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, errUserDisabled
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, errInvalidCredentials
	}

	return s.openSession(&user, ctx)
}

// Register creates a local account and logs it in.
func (s *AuthService) Register(req *RegisterRequest, ctx RequestContext) (*LoginResult, error) {
	if s.configSvc.GetWithDefault("registration_enabled", "true") != "true" {
		return nil, errRegistrationClosed
	}
	// The refresh-token wire format is colon-delimited, usernames must not
	// contain colons.
	if strings.ContainsAny(req.Username, ": \t\n") {
		return nil, errors.New("username contains invalid characters")
	}

	var count int64
	s.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count)
	if count > 0 {
		return nil, errUsernameTaken
	}
	s.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count)
	if count > 0 {
		return nil, errEmailTaken
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username: req.Username,
		Password: hashedPassword,
		Email:    req.Email,
		Nickname: req.Nickname,
		Role:     "user",
		AuthType: "local",
		IsActive: true,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}

	return s.openSession(&user, ctx)
}

// GoogleLogin verifies a Google ID token and opens a session for the
// matching account, creating it on first login.
func (s *AuthService) GoogleLogin(req *GoogleLoginRequest, ctx RequestContext) (*LoginResult, error) {
	if s.google == nil || !s.google.Enabled() {
		return nil, errGoogleLoginDisabled
	}

	claims, err := s.google.Verify(req.IDToken)
	if err != nil {
		return nil, err
	}

	var user models.User
	err = s.db.Where("google_id = ? AND auth_type = ?", claims.Sub, "google").First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Username: googleUsername(claims.Email),
			Email:    claims.Email,
			Nickname: claims.Name,
			Role:     "user",
			AuthType: "google",
			GoogleID: claims.Sub,
			IsActive: true,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, errUserDisabled
	}

	// Keep profile fields in sync with the IdP
	user.Email = claims.Email
	if claims.Name != "" {
		user.Nickname = claims.Name
	}
	s.db.Save(&user)

	return s.openSession(&user, ctx)
}

func (s *AuthService) openSession(user *models.User, ctx RequestContext) (*LoginResult, error) {
	pair, err := s.tokens.CreateTokenPair(user, ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user.LastLogin = &now
	s.db.Save(user)

	return &LoginResult{User: user, Pair: pair}, nil
}

// googleUsername derives a colon-free username from the account email.
func googleUsername(email string) string {
	name := email
	if at := strings.Index(email, "@"); at > 0 {
		name = email[:at]
	}
	return strings.ReplaceAll(name, ":", "_")
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// ChangePassword rotates a local user's password and revokes every active
// session, forcing re-authentication everywhere.
func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest, ctx RequestContext) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return errors.New("user not found")
	}

	if user.AuthType != "local" {
		return errors.New("google users cannot change password here")
	}

	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return errors.New("incorrect old password")
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	user.Password = hashedPassword
	if err := s.db.Save(&user).Error; err != nil {
		return err
	}

	_, err = s.tokens.RevokeAllUserTokens(userID, ctx)
	return err
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateAdminIfNotExists creates default admin user if not exists
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	s.db.Model(&models.User{}).Where("role = ?", "admin").Count(&count)

	if count == 0 {
		hashedPassword, err := utils.HashPassword("admin")
		if err != nil {
			return err
		}

		admin := models.User{
			Username: "admin",
			Password: hashedPassword,
			Nickname: "Administrator",
			Role:     "admin",
			AuthType: "local",
			IsActive: true,
		}

		return s.db.Create(&admin).Error
	}

	return nil
}

// IsGoogleLoginEnabled reports whether Google ID-token login is configured.
func (s *AuthService) IsGoogleLoginEnabled() bool {
	return s.google != nil && s.google.Enabled()
}
