package tenancy

import "context"

// ctxKey is an unexported type used as the context key for ProgramContext.
type ctxKey struct{}

// ProgramContext carries the resolved program scope through request context.
type ProgramContext struct {
	Program string
}

// WithProgram returns a new context with the given ProgramContext attached.
func WithProgram(ctx context.Context, pc ProgramContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, pc)
}

// FromContext retrieves the ProgramContext from the context.
// Returns the zero value and false if no program is set.
func FromContext(ctx context.Context) (ProgramContext, bool) {
	pc, ok := ctx.Value(ctxKey{}).(ProgramContext)
	return pc, ok
}

// ProgramFromContext is a convenience function that returns the program key
// from the context, or "" if no program context is set.
func ProgramFromContext(ctx context.Context) string {
	pc, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return pc.Program
}
