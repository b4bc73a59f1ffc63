package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tokenColumns = `teacher_id, google_email, access_token, refresh_token, access_token_expiry,
	drive_folder_id, drive_folder_url, class_id,
	webhook_channel_id, webhook_resource_id, webhook_expiry,
	last_synced_at, sync_status, last_error, created_at, updated_at`

// tokenRepo implements TeacherTokenRepository.
type tokenRepo struct {
	pool *pgxpool.Pool
}

func scanToken(row pgx.Row) (*TeacherToken, error) {
	var t TeacherToken
	err := row.Scan(
		&t.TeacherID, &t.GoogleEmail, &t.AccessToken, &t.RefreshToken, &t.AccessTokenExpiry,
		&t.DriveFolderID, &t.DriveFolderURL, &t.ClassID,
		&t.WebhookChannelID, &t.WebhookResourceID, &t.WebhookExpiry,
		&t.LastSyncedAt, &t.SyncStatus, &t.LastError, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan teacher token: %w", err)
	}
	return &t, nil
}

func (r *tokenRepo) Upsert(ctx context.Context, tok TeacherToken) (*TeacherToken, error) {
	defer observeDB(ctx, "tokens.upsert")()
	q := `INSERT INTO teacher_tokens (teacher_id, google_email, access_token, refresh_token, access_token_expiry, sync_status, last_error)
	VALUES ($1, $2, $3, $4, $5, 'active', NULL)
	ON CONFLICT (teacher_id) DO UPDATE SET
		google_email = EXCLUDED.google_email,
		access_token = EXCLUDED.access_token,
		refresh_token = EXCLUDED.refresh_token,
		access_token_expiry = EXCLUDED.access_token_expiry,
		sync_status = 'active',
		last_error = NULL,
		updated_at = now()
	RETURNING ` + tokenColumns
	return scanToken(r.pool.QueryRow(ctx, q, tok.TeacherID, tok.GoogleEmail, tok.AccessToken, tok.RefreshToken, tok.AccessTokenExpiry))
}

func (r *tokenRepo) GetByTeacher(ctx context.Context, teacherID string) (*TeacherToken, error) {
	defer observeDB(ctx, "tokens.get_by_teacher")()
	q := `SELECT ` + tokenColumns + ` FROM teacher_tokens WHERE teacher_id = $1`
	return scanToken(r.pool.QueryRow(ctx, q, teacherID))
}

func (r *tokenRepo) GetByChannel(ctx context.Context, channelID, resourceID string) (*TeacherToken, error) {
	defer observeDB(ctx, "tokens.get_by_channel")()
	q := `SELECT ` + tokenColumns + ` FROM teacher_tokens
	WHERE webhook_channel_id = $1 AND webhook_resource_id = $2`
	return scanToken(r.pool.QueryRow(ctx, q, channelID, resourceID))
}

func (r *tokenRepo) listTokens(ctx context.Context, q string, args ...any) ([]TeacherToken, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query teacher tokens: %w", err)
	}
	defer rows.Close()

	var tokens []TeacherToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (r *tokenRepo) ListActiveWithFolder(ctx context.Context) ([]TeacherToken, error) {
	defer observeDB(ctx, "tokens.list_active_with_folder")()
	q := `SELECT ` + tokenColumns + ` FROM teacher_tokens
	WHERE sync_status = 'active' AND drive_folder_id IS NOT NULL
	ORDER BY teacher_id`
	return r.listTokens(ctx, q)
}

func (r *tokenRepo) ListExpiringWebhooks(ctx context.Context, cutoff time.Time) ([]TeacherToken, error) {
	defer observeDB(ctx, "tokens.list_expiring_webhooks")()
	q := `SELECT ` + tokenColumns + ` FROM teacher_tokens
	WHERE sync_status = 'active' AND webhook_channel_id IS NOT NULL AND webhook_expiry <= $1
	ORDER BY webhook_expiry`
	return r.listTokens(ctx, q, cutoff)
}

func (r *tokenRepo) UpdateAccessToken(ctx context.Context, teacherID, accessToken string, expiry time.Time) error {
	defer observeDB(ctx, "tokens.update_access_token")()
	q := `UPDATE teacher_tokens
	SET access_token = $2, access_token_expiry = $3, updated_at = now()
	WHERE teacher_id = $1`
	_, err := r.pool.Exec(ctx, q, teacherID, accessToken, expiry)
	return err
}

func (r *tokenRepo) UpdateFolder(ctx context.Context, teacherID, folderID, folderURL, classID string) error {
	defer observeDB(ctx, "tokens.update_folder")()
	q := `UPDATE teacher_tokens
	SET drive_folder_id = $2, drive_folder_url = $3, class_id = $4,
		sync_status = 'active', last_error = NULL, updated_at = now()
	WHERE teacher_id = $1`
	_, err := r.pool.Exec(ctx, q, teacherID, folderID, folderURL, classID)
	return err
}

func (r *tokenRepo) UpdateWebhook(ctx context.Context, teacherID, channelID, resourceID string, expiry time.Time) error {
	defer observeDB(ctx, "tokens.update_webhook")()
	q := `UPDATE teacher_tokens
	SET webhook_channel_id = $2, webhook_resource_id = $3, webhook_expiry = $4, updated_at = now()
	WHERE teacher_id = $1`
	_, err := r.pool.Exec(ctx, q, teacherID, channelID, resourceID, expiry)
	return err
}

func (r *tokenRepo) ClearWebhook(ctx context.Context, teacherID string) error {
	defer observeDB(ctx, "tokens.clear_webhook")()
	q := `UPDATE teacher_tokens
	SET webhook_channel_id = NULL, webhook_resource_id = NULL, webhook_expiry = NULL, updated_at = now()
	WHERE teacher_id = $1`
	_, err := r.pool.Exec(ctx, q, teacherID)
	return err
}

func (r *tokenRepo) TouchLastSynced(ctx context.Context, teacherID string, at time.Time) error {
	defer observeDB(ctx, "tokens.touch_last_synced")()
	q := `UPDATE teacher_tokens SET last_synced_at = $2, updated_at = now() WHERE teacher_id = $1`
	_, err := r.pool.Exec(ctx, q, teacherID, at)
	return err
}

func (r *tokenRepo) MarkError(ctx context.Context, teacherID, message string) error {
	defer observeDB(ctx, "tokens.mark_error")()
	q := `UPDATE teacher_tokens
	SET sync_status = 'error', last_error = $2, updated_at = now()
	WHERE teacher_id = $1`
	_, err := r.pool.Exec(ctx, q, teacherID, message)
	return err
}

func (r *tokenRepo) Delete(ctx context.Context, teacherID string) error {
	defer observeDB(ctx, "tokens.delete")()
	_, err := r.pool.Exec(ctx, `DELETE FROM teacher_tokens WHERE teacher_id = $1`, teacherID)
	return err
}

const recordingColumns = `id, drive_file_id, class_id, teacher_id, title, view_url, download_url,
	thumbnail_url, size_bytes, mime_type, remote_created_at, remote_modified_at,
	synced_at, status, added_at`

// recordingRepo implements RecordingRepository.
type recordingRepo struct {
	pool *pgxpool.Pool
}

func scanRecording(row pgx.Row) (*Recording, error) {
	var rec Recording
	err := row.Scan(
		&rec.ID, &rec.DriveFileID, &rec.ClassID, &rec.TeacherID, &rec.Title, &rec.ViewURL,
		&rec.DownloadURL, &rec.ThumbnailURL, &rec.SizeBytes, &rec.MimeType,
		&rec.RemoteCreatedAt, &rec.RemoteModifiedAt, &rec.SyncedAt, &rec.Status, &rec.AddedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan recording: %w", err)
	}
	return &rec, nil
}

func (r *recordingRepo) GetByDriveFileID(ctx context.Context, driveFileID string) (*Recording, error) {
	defer observeDB(ctx, "recordings.get_by_drive_file_id")()
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE drive_file_id = $1`
	return scanRecording(r.pool.QueryRow(ctx, q, driveFileID))
}

func (r *recordingRepo) Insert(ctx context.Context, rec Recording) (*Recording, error) {
	defer observeDB(ctx, "recordings.insert")()
	q := `INSERT INTO recordings (drive_file_id, class_id, teacher_id, title, view_url, download_url,
		thumbnail_url, size_bytes, mime_type, remote_created_at, remote_modified_at, synced_at, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING ` + recordingColumns
	return scanRecording(r.pool.QueryRow(ctx, q,
		rec.DriveFileID, rec.ClassID, rec.TeacherID, rec.Title, rec.ViewURL, rec.DownloadURL,
		rec.ThumbnailURL, rec.SizeBytes, rec.MimeType, rec.RemoteCreatedAt, rec.RemoteModifiedAt,
		rec.SyncedAt, rec.Status))
}

func (r *recordingRepo) UpdateMetadata(ctx context.Context, rec Recording) error {
	defer observeDB(ctx, "recordings.update_metadata")()
	q := `UPDATE recordings
	SET title = $2, view_url = $3, download_url = $4, thumbnail_url = $5,
		size_bytes = $6, mime_type = $7, remote_modified_at = $8, synced_at = $9
	WHERE drive_file_id = $1`
	_, err := r.pool.Exec(ctx, q,
		rec.DriveFileID, rec.Title, rec.ViewURL, rec.DownloadURL, rec.ThumbnailURL,
		rec.SizeBytes, rec.MimeType, rec.RemoteModifiedAt, rec.SyncedAt)
	return err
}

func (r *recordingRepo) ListByClass(ctx context.Context, classID string, limit, offset int) ([]Recording, error) {
	defer observeDB(ctx, "recordings.list_by_class")()
	q := `SELECT ` + recordingColumns + ` FROM recordings
	WHERE class_id = $1 AND status = 'active'
	ORDER BY added_at DESC
	LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, classID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var recs []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (r *recordingRepo) CountByClass(ctx context.Context, classID string) (int, error) {
	defer observeDB(ctx, "recordings.count_by_class")()
	var count int
	q := `SELECT COUNT(*) FROM recordings WHERE class_id = $1 AND status = 'active'`
	if err := r.pool.QueryRow(ctx, q, classID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count recordings: %w", err)
	}
	return count, nil
}

// classRepo implements ClassRepository.
type classRepo struct {
	pool *pgxpool.Pool
}

func scanClass(row pgx.Row) (*Class, error) {
	var c Class
	err := row.Scan(&c.ID, &c.TeacherID, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan class: %w", err)
	}
	return &c, nil
}

func (r *classRepo) GetByID(ctx context.Context, id string) (*Class, error) {
	defer observeDB(ctx, "classes.get_by_id")()
	q := `SELECT id, teacher_id, name, created_at FROM classes WHERE id = $1`
	return scanClass(r.pool.QueryRow(ctx, q, id))
}

func (r *classRepo) ListByTeacher(ctx context.Context, teacherID string) ([]Class, error) {
	defer observeDB(ctx, "classes.list_by_teacher")()
	q := `SELECT id, teacher_id, name, created_at FROM classes WHERE teacher_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, teacherID)
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	var classes []Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		classes = append(classes, *c)
	}
	return classes, rows.Err()
}

func (r *classRepo) Create(ctx context.Context, class Class) (*Class, error) {
	defer observeDB(ctx, "classes.create")()
	q := `INSERT INTO classes (id, teacher_id, name) VALUES ($1, $2, $3)
	RETURNING id, teacher_id, name, created_at`
	return scanClass(r.pool.QueryRow(ctx, q, class.ID, class.TeacherID, class.Name))
}
