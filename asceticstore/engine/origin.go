package engine

import "context"

type originKey struct{}

// WithOrigin names the context or writer on whose behalf ctx operates.
// Engines use it to tag changes that are not made through Persist.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}
