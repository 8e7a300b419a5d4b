// Package auth verifies the callers of the push and internal endpoints.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/idtoken"
)

// ErrForbidden is returned for any failed verification.
var ErrForbidden = errors.New("forbidden")

// TokenVerifier validates a bearer identity token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) error
}

// ValidateFunc matches idtoken.Validate.
type ValidateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// IDTokenVerifier checks Google-signed OIDC tokens.
type IDTokenVerifier struct {
	audience string
	email    string
	validate ValidateFunc
}

// NewIDTokenVerifier checks tokens for audience. When email is set the
// token must be issued to that verified service account.
func NewIDTokenVerifier(audience, email string) *IDTokenVerifier {
	return &IDTokenVerifier{audience: audience, email: email, validate: idtoken.Validate}
}

// WithValidator swaps the signature check, for tests.
func (v *IDTokenVerifier) WithValidator(fn ValidateFunc) *IDTokenVerifier {
	v.validate = fn
	return v
}

func (v *IDTokenVerifier) Verify(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: missing identity token", ErrForbidden)
	}
	payload, err := v.validate(ctx, token, v.audience)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	if v.email == "" {
		return nil
	}
	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	if !verified || !strings.EqualFold(email, v.email) {
		return fmt.Errorf("%w: unexpected token email %q", ErrForbidden, email)
	}
	return nil
}

// SecretEqual compares a presented secret with the configured one in
// constant time. An empty configured secret never matches.
func SecretEqual(expected, presented string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// SecretSource reads the presented shared secret from a request.
type SecretSource func(c *gin.Context) string

// FromQuery reads the secret from a query parameter.
func FromQuery(name string) SecretSource {
	return func(c *gin.Context) string { return c.Query(name) }
}

// FromHeader reads the secret from a header.
func FromHeader(name string) SecretSource {
	return func(c *gin.Context) string { return c.GetHeader(name) }
}

// FromBearer reads the secret from the Authorization header.
func FromBearer() SecretSource {
	return func(c *gin.Context) string { return BearerToken(c.GetHeader("Authorization")) }
}

// Require rejects requests with 403 unless the identity token (when a
// verifier is given) and the shared secret both check out.
func Require(verifier TokenVerifier, secret string, source SecretSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier != nil {
			if err := verifier.Verify(c.Request.Context(), BearerToken(c.GetHeader("Authorization"))); err != nil {
				reject(c, err)
				return
			}
		}
		if !SecretEqual(secret, source(c)) {
			reject(c, fmt.Errorf("%w: invalid token", ErrForbidden))
			return
		}
		c.Next()
	}
}

func reject(c *gin.Context, err error) {
	logrus.WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"client": c.ClientIP(),
	}).Warnf("Rejected request: %v", err)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":   "forbidden",
		"message": "Invalid credentials",
		"code":    http.StatusForbidden,
	})
}
