package socket

import (
	"fmt"
	"net/url"
	"strings"
)

// Keys read from persisted client state on every connect.
const (
	KeyAuthToken         = "authToken"
	KeySelectedProjectID = "selectedProjectId"
)

// Credentials is the persisted key/value state the endpoint is built from.
// Lookup is called on every connect attempt, so implementations should not
// cache values the user can change.
type Credentials interface {
	Lookup(key string) (string, bool)
}

// StaticCredentials is an in-memory Credentials.
type StaticCredentials map[string]string

func (c StaticCredentials) Lookup(key string) (string, bool) {
	v, ok := c[key]
	return v, ok
}

// BuildEndpoint returns {base}ws?token={authToken}&project_id={selectedProjectId}.
// http and https bases are mapped to ws and wss.
func BuildEndpoint(base string, creds Credentials) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidEndpoint, base)
	}

	var token, projectID string
	if creds != nil {
		token, _ = creds.Lookup(KeyAuthToken)
		projectID, _ = creds.Lookup(KeySelectedProjectID)
	}

	u.Path += "ws"
	// url.Values.Encode sorts keys; keep the documented token-first order.
	u.RawQuery = "token=" + url.QueryEscape(token) + "&project_id=" + url.QueryEscape(projectID)
	u.Fragment = ""

	return u.String(), nil
}
