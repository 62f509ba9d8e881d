package auth

import "context"

type userContextKey struct{}

type userInfo struct {
	id    string
	roles []string
}

// ContextWithUser stores the authenticated staff identity in the context.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userInfo{
		id:    userID,
		roles: dedupeRoles(roles),
	})
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	info, ok := ctx.Value(userContextKey{}).(userInfo)
	if !ok || info.id == "" {
		return "", false
	}
	return info.id, true
}

// RolesFromContext returns the roles stored in context (deduplicated and lower-cased).
func RolesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	info, ok := ctx.Value(userContextKey{}).(userInfo)
	if !ok {
		return nil
	}
	return append([]string(nil), info.roles...)
}

// HasRole checks whether the context contains the specified role.
func HasRole(ctx context.Context, role string) bool {
	role = normalizeRole(role)
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

func normalizeRole(role string) string {
	rs := dedupeRoles([]string{role})
	if len(rs) == 0 {
		return ""
	}
	return rs[0]
}
