package storage

import (
	"net/url"
	"strings"
)

// IsPostgres reports whether conn names a PostgreSQL database rather than
// a sqlite file.
func IsPostgres(conn string) bool {
	return strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://")
}

// HasEmbeddedCredentials reports whether a PostgreSQL URL or key=value DSN
// carries a password.
func HasEmbeddedCredentials(conn string) bool {
	if IsPostgres(conn) {
		u, err := url.Parse(conn)
		if err != nil {
			return false
		}
		_, set := u.User.Password()
		return set
	}
	for _, pair := range strings.Fields(conn) {
		k, _, ok := strings.Cut(pair, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "password") {
			return true
		}
	}
	return false
}
