package auth

import "context"

type contextKey string

const contextKeyTeacherID contextKey = "teacher_id"

func WithTeacherID(ctx context.Context, teacherID string) context.Context {
	return context.WithValue(ctx, contextKeyTeacherID, teacherID)
}

func TeacherIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKeyTeacherID).(string)
	return id, ok
}
