// Package approval issues the tokens that bind a client's approve/reject
// decision to exactly one ticket, and resolves them back.
package approval

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datan8/sitepilot/pkg/models"
)

// TokenPrefix opens every approval token. The full-text search that
// resolves a token relies on the token being distinctive enough not to
// collide with ordinary issue text.
const TokenPrefix = "APPR"

var (
	// ErrNotFound reports that no open ticket carries the token.
	ErrNotFound = errors.New("no open ticket matches approval token")

	// ErrAmbiguous reports that more than one open ticket carries the
	// token. Resolution fails closed: no mutation is applied.
	ErrAmbiguous = errors.New("approval token matches more than one open ticket")
)

// tokenPattern matches the issued format: prefix, UTC timestamp at second
// precision, and a random hex suffix.
var tokenPattern = regexp.MustCompile(`^` + TokenPrefix + `-\d{14}-[0-9a-f]{8}$`)

// IssueToken generates a new approval token for the given issuance time.
// Format: APPR-<UTC yyyymmddhhmmss>-<8 hex chars>. A collision needs two
// tokens issued in the same second to also share a 32-bit random suffix;
// at tens to low thousands of requests per day that is acceptable and not
// formally bounded.
func IssueToken(now time.Time) string {
	stamp := now.UTC().Format("20060102150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", TokenPrefix, stamp, suffix)
}

// ValidToken reports whether a string has the issued token shape. The
// approval endpoint rejects malformed tokens before touching the tracker.
func ValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}

// Resolve is a pure function over a token lookup result. Exactly one hit
// resolves; zero hits is ErrNotFound; several hits is ErrAmbiguous, never
// "pick the first" - a token that matches twice means the search index or
// the token itself can no longer be trusted.
func Resolve(token string, hits []models.Ticket) (models.Ticket, error) {
	switch len(hits) {
	case 0:
		return models.Ticket{}, fmt.Errorf("%w: %s", ErrNotFound, token)
	case 1:
		return hits[0], nil
	default:
		return models.Ticket{}, fmt.Errorf("%w: %s matched %d tickets", ErrAmbiguous, token, len(hits))
	}
}
