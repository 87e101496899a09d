package authgate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/throttlekit/authgate/jwt"
)

// Claims is the structured record carried by every issued token. Subject is
// the stable user or session id; ID is the unique token identifier (jti).
type Claims = jwt.Claims

// TokenPair holds an access/refresh token pair issued together. The refresh
// token is only usable alongside the access token it was issued with.
type TokenPair struct {
	Access  string
	Refresh string
}

// Identity is the per-request identity surfaced to downstream handlers after
// resolution. Anonymous callers carry a session-derived Identifier and no
// scopes.
type Identity struct {
	Identifier string
	Scopes     []string
	Extra      map[string]any
	Anonymous  bool
}

// RefreshMetadata is the server-side record that keeps a refresh token alive.
// It binds the refresh token id to the access token id issued alongside it.
type RefreshMetadata struct {
	RefreshID string
	AccessID  string
	Subject   string
	IssuedAt  time.Time
}

// Encode renders the record in the compact form stored in the cache:
// accessID|subject|issuedAtUnix. The flat layout exists so the atomic
// scripts can read single fields with string.match instead of a JSON parser.
func (m RefreshMetadata) Encode() string {
	return m.AccessID + "|" + m.Subject + "|" + strconv.FormatInt(m.IssuedAt.Unix(), 10)
}

// DecodeRefreshMetadata parses a stored record. The subject may itself
// contain the separator, so the fixed fields are split off both ends.
func DecodeRefreshMetadata(refreshID, value string) (RefreshMetadata, error) {
	first := strings.Index(value, "|")
	last := strings.LastIndex(value, "|")
	if first < 0 || last <= first {
		return RefreshMetadata{}, fmt.Errorf("malformed refresh metadata for %s", refreshID)
	}

	issuedUnix, err := strconv.ParseInt(value[last+1:], 10, 64)
	if err != nil {
		return RefreshMetadata{}, fmt.Errorf("malformed refresh metadata for %s: %v", refreshID, err)
	}

	return RefreshMetadata{
		RefreshID: refreshID,
		AccessID:  value[:first],
		Subject:   value[first+1 : last],
		IssuedAt:  time.Unix(issuedUnix, 0),
	}, nil
}

func refreshKey(prefix, refreshID string) string {
	return prefix + "refresh:" + refreshID
}

func subjectIndexKey(prefix, subject string) string {
	return prefix + "subjectIndex:" + subject
}

func subjectLockName(prefix, subject string) string {
	return prefix + "subject:" + subject
}

var errMissingToken = errors.New("empty token string")
