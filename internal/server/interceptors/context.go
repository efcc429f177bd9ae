package interceptors

import "context"

type contextKey struct{ name string }

var subjectIDKey = contextKey{"subject_id"}

// WithIdentity returns a context carrying the authenticated subject id.
// Handlers read it via GetSubjectID.
func WithIdentity(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectIDKey, subjectID)
}

// GetSubjectID returns the subject_id from context and true if set; otherwise "", false.
func GetSubjectID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectIDKey).(string)
	return v, ok && v != ""
}
