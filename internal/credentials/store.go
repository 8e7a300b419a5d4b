// Package credentials turns stored Google grants into refreshing OAuth token
// sources and persists the refreshed tokens back.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"gmail-auto-reply-go/internal/apperr"
	"gmail-auto-reply-go/internal/model"
	"gmail-auto-reply-go/internal/repository"
)

// Scopes requested for mailboxes handled by the auto-reply pipeline.
var Scopes = []string{gmailapi.GmailModifyScope, gmailapi.GmailSendScope}

// DefaultTimezone is used when a user has none stored.
const DefaultTimezone = "UTC"

// OAuthConfig builds the Google OAuth client configuration.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
	}
}

// Store reads and writes google_credentials rows.
type Store struct {
	repo   *repository.Repository
	config *oauth2.Config
}

func NewStore(repo *repository.Repository, config *oauth2.Config) *Store {
	return &Store{repo: repo, config: config}
}

// TokenSource returns a token source for userID that refreshes through the
// OAuth endpoint and saves every new access token. A user without a stored
// grant yields an AuthRequired error.
func (s *Store) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	cred, err := s.repo.GetCredential(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && cred.RefreshToken == "") {
		return nil, apperr.New(apperr.AuthRequired, "credentials.load", fmt.Errorf("no google credentials for user %s", userID))
	}
	if err != nil {
		return nil, apperr.New(apperr.Transient, "credentials.load", err)
	}

	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}

	base := s.config.TokenSource(context.WithoutCancel(ctx), tok)
	return oauth2.ReuseTokenSource(tok, &persistingTokenSource{
		src:     base,
		current: tok.AccessToken,
		save: func(t *oauth2.Token) error {
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return s.repo.UpdateAccessToken(saveCtx, userID, t.AccessToken, t.RefreshToken, t.TokenType, t.Expiry)
		},
		userID: userID,
	}), nil
}

// Timezone returns the user's configured timezone.
func (s *Store) Timezone(ctx context.Context, userID string) string {
	cred, err := s.repo.GetCredential(ctx, userID)
	if err != nil || cred.Timezone == "" {
		return DefaultTimezone
	}
	return cred.Timezone
}

// Save stores a freshly granted token for userID.
func (s *Store) Save(ctx context.Context, userID, timezone string, tok *oauth2.Token) error {
	if tok.RefreshToken == "" {
		return fmt.Errorf("token for user %s has no refresh token", userID)
	}
	if timezone == "" {
		timezone = DefaultTimezone
	}
	return s.repo.SaveCredential(ctx, &model.GoogleCredential{
		UserID:       userID,
		RefreshToken: tok.RefreshToken,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Timezone:     timezone,
	})
}

type persistingTokenSource struct {
	mu      sync.Mutex
	src     oauth2.TokenSource
	current string
	save    func(*oauth2.Token) error
	userID  string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	t, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t.AccessToken != p.current {
		p.current = t.AccessToken
		if err := p.save(t); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": p.userID,
				"error":   err,
			}).Warn("Failed to persist refreshed token")
		}
	}
	return t, nil
}
