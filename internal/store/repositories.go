package store

import (
	"context"
	"time"
)

// TeacherTokenRepository defines persistence operations for OAuth token records.
type TeacherTokenRepository interface {
	// Upsert creates or replaces the credential fields for a teacher while
	// preserving any existing folder and webhook configuration.
	Upsert(ctx context.Context, tok TeacherToken) (*TeacherToken, error)
	GetByTeacher(ctx context.Context, teacherID string) (*TeacherToken, error)
	// GetByChannel resolves an inbound push notification to its owner.
	GetByChannel(ctx context.Context, channelID, resourceID string) (*TeacherToken, error)
	// ListActiveWithFolder returns records eligible for fallback polling.
	ListActiveWithFolder(ctx context.Context) ([]TeacherToken, error)
	// ListExpiringWebhooks returns active records whose channel expires at or
	// before the cutoff.
	ListExpiringWebhooks(ctx context.Context, cutoff time.Time) ([]TeacherToken, error)
	UpdateAccessToken(ctx context.Context, teacherID, accessToken string, expiry time.Time) error
	// UpdateFolder stores the mirrored folder and its target class, clearing
	// any previous error state.
	UpdateFolder(ctx context.Context, teacherID, folderID, folderURL, classID string) error
	UpdateWebhook(ctx context.Context, teacherID, channelID, resourceID string, expiry time.Time) error
	ClearWebhook(ctx context.Context, teacherID string) error
	TouchLastSynced(ctx context.Context, teacherID string, at time.Time) error
	// MarkError sets sync_status to error with the failure reason.
	MarkError(ctx context.Context, teacherID, message string) error
	Delete(ctx context.Context, teacherID string) error
}

// RecordingRepository handles synchronized recording storage.
type RecordingRepository interface {
	GetByDriveFileID(ctx context.Context, driveFileID string) (*Recording, error)
	Insert(ctx context.Context, rec Recording) (*Recording, error)
	// UpdateMetadata refreshes title/links/size/timestamps for an existing
	// drive file id without touching status.
	UpdateMetadata(ctx context.Context, rec Recording) error
	ListByClass(ctx context.Context, classID string, limit, offset int) ([]Recording, error)
	CountByClass(ctx context.Context, classID string) (int, error)
}

// ClassRepository manages classes recordings attach to.
type ClassRepository interface {
	GetByID(ctx context.Context, id string) (*Class, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]Class, error)
	Create(ctx context.Context, class Class) (*Class, error)
}
