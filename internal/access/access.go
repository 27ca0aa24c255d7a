// Package access answers who may talk to the bot and who may call the
// reporting API. Bot-side access is a config-driven user id list;
// API-side access is a single admin bearer token.
package access

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ACL holds the parsed admin and allowed user id lists. "*" in the
// allowed list opens the bot to everyone; "-" in the admin list means
// no admins.
type ACL struct {
	allowAll bool
	allowed  []int64
	admins   map[int64]bool
}

// ParseACL parses the comma-separated id lists from configuration.
func ParseACL(allowedIDs, adminIDs string) (*ACL, error) {
	acl := &ACL{admins: make(map[int64]bool)}

	allowedIDs = strings.TrimSpace(allowedIDs)
	if allowedIDs == "*" {
		acl.allowAll = true
	} else if allowedIDs != "" && allowedIDs != "-" {
		ids, err := parseIDs(allowedIDs)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed user ids: %w", err)
		}
		acl.allowed = ids
	}

	adminIDs = strings.TrimSpace(adminIDs)
	if adminIDs != "" && adminIDs != "-" {
		ids, err := parseIDs(adminIDs)
		if err != nil {
			return nil, fmt.Errorf("invalid admin user ids: %w", err)
		}
		for _, id := range ids {
			acl.admins[id] = true
		}
	}

	return acl, nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *ACL) IsAdmin(userID int64) bool {
	return a.admins[userID]
}

// IsAllowed reports whether a user may use the bot at all. Admins are
// always allowed.
func (a *ACL) IsAllowed(userID int64) bool {
	if a.allowAll || a.admins[userID] {
		return true
	}
	for _, id := range a.allowed {
		if id == userID {
			return true
		}
	}
	return false
}

// AllowedIndex returns the user's position in the allowed list, used to
// pick their entry in the positionally aligned budget list. The second
// result is false for users not explicitly listed.
func (a *ACL) AllowedIndex(userID int64) (int, bool) {
	for i, id := range a.allowed {
		if id == userID {
			return i, true
		}
	}
	return 0, false
}

// TokenMiddleware guards the reporting API with a static bearer token
// compared in constant time.
func TokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unauthorized: missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			got := strings.TrimPrefix(authHeader, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
