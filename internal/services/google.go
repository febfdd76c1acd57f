package services

import (
	"errors"

	googleAuthIDTokenVerifier "github.com/futurenda/google-auth-id-token-verifier"
	"github.com/oceandive/divetrack/backend/internal/config"
)

var errInvalidGoogleToken = errors.New("invalid google id token")

// GoogleClaims is the subset of the verified ID-token claim set we use.
type GoogleClaims struct {
	Sub   string
	Email string
	Name  string
}

// GoogleVerifier checks Google-issued ID tokens against our client ID.
// Verification is a pure external-collaborator call; no local state.
type GoogleVerifier struct {
	clientID string
	enabled  bool
}

func NewGoogleVerifier(cfg *config.GoogleConfig) *GoogleVerifier {
	return &GoogleVerifier{
		clientID: cfg.ClientID,
		enabled:  cfg.Enabled && cfg.ClientID != "",
	}
}

func (g *GoogleVerifier) Enabled() bool {
	return g.enabled
}

func (g *GoogleVerifier) Verify(idToken string) (*GoogleClaims, error) {
	if !g.enabled {
		return nil, errInvalidGoogleToken
	}

	v := googleAuthIDTokenVerifier.Verifier{}
	if err := v.VerifyIDToken(idToken, []string{g.clientID}); err != nil {
		return nil, errInvalidGoogleToken
	}

	claimSet, err := googleAuthIDTokenVerifier.Decode(idToken)
	if err != nil {
		return nil, errInvalidGoogleToken
	}

	return &GoogleClaims{
		Sub:   claimSet.Sub,
		Email: claimSet.Email,
		Name:  claimSet.Name,
	}, nil
}
