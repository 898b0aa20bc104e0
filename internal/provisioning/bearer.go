package provisioning

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/provisiond/internal/infrastructure/logging"
)

const bearerPrefix = "Bearer "

// bearerToken extracts the token from an Authorization header. The prefix
// match is case-insensitive; a header without the prefix is taken whole.
// A bare scheme name carries no token.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, strings.TrimSpace(bearerPrefix)) {
		return ""
	}
	if len(header) >= len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return header
}

// BearerInfo is what can be read from a JWT bearer token without verifying
// it. The device holds no key to verify the backend's signature; the token
// is stored for later backend calls, not trusted locally.
type BearerInfo struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry in the past.
func (b BearerInfo) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}

// InspectBearer decodes the claims of a JWT bearer token. ok is false for
// opaque tokens.
func InspectBearer(token string) (info BearerInfo, ok bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return BearerInfo{}, false
	}
	if sub, err := parsed.Claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, true
}

func (s *Service) logBearer(token string) {
	info, ok := InspectBearer(token)
	if !ok {
		s.logger.Debug("opaque bearer token received", "token", logging.Redact(token))
		return
	}
	if info.Expired(time.Now()) {
		s.logger.Warn("bearer token already expired", "subject", info.Subject, "expires_at", info.ExpiresAt)
		return
	}
	s.logger.Debug("bearer token received", "subject", info.Subject, "expires_at", info.ExpiresAt)
}
