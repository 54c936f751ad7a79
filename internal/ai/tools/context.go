package tools

import "context"

type userIDKey struct{}

// WithUserID returns a context carrying the id of the user a tool call runs for.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user id set by WithUserID.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok
}
