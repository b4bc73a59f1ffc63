package store

import "time"

// Sync statuses for a teacher's Drive connection.
const (
	SyncActive = "active"
	SyncPaused = "paused"
	SyncError  = "error"
)

// Recording statuses.
const (
	RecordingActive   = "active"
	RecordingArchived = "archived"
	RecordingDeleted  = "deleted"
)

// TeacherToken holds a teacher's Google OAuth credentials along with the
// mirrored folder configuration and push channel bookkeeping. One row per
// teacher; created when the consent flow completes, deleted only on explicit
// disconnect.
type TeacherToken struct {
	TeacherID         string
	GoogleEmail       string
	AccessToken       string
	RefreshToken      string
	AccessTokenExpiry time.Time
	DriveFolderID     *string
	DriveFolderURL    *string
	ClassID           *string
	WebhookChannelID  *string
	WebhookResourceID *string
	WebhookExpiry     *time.Time
	LastSyncedAt      *time.Time
	SyncStatus        string
	LastError         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CredentialsExpired reports whether the access token must be refreshed
// before the next provider call. A small skew avoids using a token that
// expires mid-request.
func (t *TeacherToken) CredentialsExpired(now time.Time) bool {
	return !now.Add(30 * time.Second).Before(t.AccessTokenExpiry)
}

// HasWebhook reports whether an active push channel is registered.
func (t *TeacherToken) HasWebhook() bool {
	return t.WebhookChannelID != nil && t.WebhookResourceID != nil && t.WebhookExpiry != nil
}

// Recording is one synchronized file from a teacher's Drive folder. Created
// on first sighting, updated in place when the remote modification time
// advances, never deleted by the sync pipeline.
type Recording struct {
	ID               int64
	DriveFileID      string
	ClassID          string
	TeacherID        string
	Title            string
	ViewURL          string
	DownloadURL      *string
	ThumbnailURL     *string
	SizeBytes        int64
	MimeType         string
	RemoteCreatedAt  time.Time
	RemoteModifiedAt time.Time
	SyncedAt         time.Time
	Status           string
	AddedAt          time.Time
}

// Class is a course recordings get attached to.
type Class struct {
	ID        string
	TeacherID string
	Name      string
	CreatedAt time.Time
}
