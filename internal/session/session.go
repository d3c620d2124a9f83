// Package session supplies the current user's identity and bearer token to the
// chat client. The token is decoded, not verified: verification is the server's
// job, the client only needs the user id baked into the claims.
package session

import (
	"errors"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSession = errors.New("session: not signed in")

type claims struct {
	UserID  int64 `json:"user_id"`
	IsStaff bool  `json:"is_staff,omitempty"`
	jwt.RegisteredClaims
}

type Provider struct {
	mu     sync.RWMutex
	token  string
	userID int64
	staff  bool
}

// New builds a Provider from a stored access token. An empty token yields a
// signed-out provider; callers hit ErrNoSession on use.
func New(token string) (*Provider, error) {
	p := &Provider{}
	if token == "" {
		return p, nil
	}
	if err := p.SetToken(token); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) SetToken(token string) error {
	var cl claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &cl); err != nil {
		return err
	}
	if cl.UserID == 0 {
		return errors.New("session: token has no user_id claim")
	}
	p.mu.Lock()
	p.token = token
	p.userID = cl.UserID
	p.staff = cl.IsStaff
	p.mu.Unlock()
	return nil
}

func (p *Provider) Clear() {
	p.mu.Lock()
	p.token = ""
	p.userID = 0
	p.staff = false
	p.mu.Unlock()
}

// Token returns the bearer token, or ErrNoSession when signed out.
func (p *Provider) Token() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return "", ErrNoSession
	}
	return p.token, nil
}

// UserID returns the signed-in user's id, 0 when signed out.
func (p *Provider) UserID() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID
}

func (p *Provider) IsStaff() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.staff
}

func (p *Provider) SignedIn() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token != ""
}
