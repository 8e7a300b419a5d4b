package gmail

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"gmail-auto-reply-go/internal/apperr"
)

// Classify maps a raw Gmail client error to an apperr kind.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.New(kindOf(err), op, err)
}

func kindOf(err error) apperr.Kind {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return apperr.Transient
		}
		return apperr.AuthExpired
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return apperr.AuthExpired
		case apiErr.Code == http.StatusForbidden:
			if isRateLimitReason(apiErr) {
				return apperr.Transient
			}
			return apperr.AuthRequired
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return apperr.Transient
		default:
			return apperr.Fatal
		}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Transient
	}
	return apperr.Fatal
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

// statusCode returns the HTTP status carried by a googleapi error, or 0.
func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
