package access

import "context"

// Actor identifies who performs a mutation, for audit attribution.
type Actor struct {
	ID    string
	Email string
	IP    string
}

type actorContextKey struct{}

// ContextWithActor attaches the acting identity to the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, &actor)
}

// ActorFromContext extracts the acting identity, if attached.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	v, ok := ctx.Value(actorContextKey{}).(*Actor)
	if !ok || v == nil {
		return Actor{}, false
	}
	return *v, true
}
