package context

import "context"

type (
	requestIDKey struct{}
	userIDKey    struct{}
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func GetRequestID(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey{}).(string)
	return s
}

// WithUserID tags ctx with the normalized caller id for log correlation.
// Business code receives the user id as an explicit argument instead.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

func GetUserID(ctx context.Context) string {
	s, _ := ctx.Value(userIDKey{}).(string)
	return s
}
