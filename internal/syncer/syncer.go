// Package syncer keeps teachers' Drive folders mirrored into class
// recordings. It owns the reconciliation routine shared by the fallback
// poller, the webhook receiver, and manual sync requests, plus the webhook
// channel renewal job.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eduspace/classdrive/internal/drive"
	"github.com/eduspace/classdrive/internal/metrics"
	"github.com/eduspace/classdrive/internal/store"
)

// Reconciliation triggers, used for logging and metrics labels.
const (
	TriggerPoll    = "poll"
	TriggerWebhook = "webhook"
	TriggerManual  = "manual"
)

// Page size for webhook- and manually-triggered reconciliations. Poll runs
// use the smaller configured PollPageSize.
const eventPageSize = 100

var (
	// ErrNotConnected means the teacher has not completed the consent flow.
	ErrNotConnected = errors.New("google drive is not connected")

	// ErrNoFolderConfigured means no Drive folder has been configured yet.
	ErrNoFolderConfigured = errors.New("no drive folder configured")

	// ErrClassNotFound means the target class does not exist or belongs to
	// another teacher.
	ErrClassNotFound = errors.New("class not found")
)

// DriveAPI is the provider surface the syncer depends on. Satisfied by
// *drive.Client; tests substitute a fake.
type DriveAPI interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, time.Time, error)
	ListFolderFiles(ctx context.Context, creds drive.Credentials, folderID string, opts drive.ListOptions) (*drive.FileList, error)
	CreateWatch(ctx context.Context, creds drive.Credentials, folderID, callbackURL string) (*drive.WatchChannel, error)
	StopWatch(ctx context.Context, creds drive.Credentials, channelID, resourceID string) error
}

// Options tune the sync pipeline.
type Options struct {
	// CallbackURL is the public webhook address registered with every
	// watch channel.
	CallbackURL string

	// LeadTime is how long before channel expiry the renewal job picks a
	// record up.
	LeadTime time.Duration

	// RequestTimeout bounds every individual provider call.
	RequestTimeout time.Duration

	// PollPageSize bounds the single listing page fetched per poll run.
	PollPageSize int64

	WebhookRenewalInterval time.Duration
	FallbackInterval       time.Duration
}

// Result reports what one reconciliation run did.
type Result struct {
	NewCount     int `json:"newCount"`
	UpdatedCount int `json:"updatedCount"`
	TotalFiles   int `json:"totalFiles"`
}

// ConfigureResult is returned after a folder has been configured.
type ConfigureResult struct {
	FolderID      string
	WebhookExpiry time.Time
	Initial       Result
}

// Syncer coordinates the token store, the Drive client, and the per-teacher
// locks.
type Syncer struct {
	store *store.Store
	drive DriveAPI
	opts  Options
	locks *teacherLocks
	log   logrus.FieldLogger
	now   func() time.Time
}

func New(st *store.Store, driveAPI DriveAPI, opts Options, log logrus.FieldLogger) *Syncer {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.PollPageSize <= 0 {
		opts.PollPageSize = 50
	}
	return &Syncer{
		store: st,
		drive: driveAPI,
		opts:  opts,
		locks: newTeacherLocks(),
		log:   log,
		now:   time.Now,
	}
}

// callCtx derives a bounded context for a single provider call.
func (s *Syncer) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.RequestTimeout)
}

// freshCredentials returns usable credentials for tok, refreshing and
// persisting the access token first when it has expired. A rejected refresh
// marks the record as errored; the caller moves on to the next teacher.
func (s *Syncer) freshCredentials(ctx context.Context, tok *store.TeacherToken) (drive.Credentials, error) {
	if !tok.CredentialsExpired(s.now()) {
		return drive.Credentials{AccessToken: tok.AccessToken}, nil
	}

	cctx, cancel := s.callCtx(ctx)
	accessToken, expiry, err := s.drive.RefreshAccessToken(cctx, tok.RefreshToken)
	cancel()
	if err != nil {
		if errors.Is(err, drive.ErrAuth) {
			if markErr := s.store.Tokens.MarkError(ctx, tok.TeacherID, err.Error()); markErr != nil {
				s.log.WithField("teacher_id", tok.TeacherID).WithError(markErr).Error("failed to record sync error state")
			}
		}
		return drive.Credentials{}, fmt.Errorf("refresh access token: %w", err)
	}

	// Persist before use so a crash cannot lose the rotated token.
	if err := s.store.Tokens.UpdateAccessToken(ctx, tok.TeacherID, accessToken, expiry); err != nil {
		return drive.Credentials{}, fmt.Errorf("persist refreshed token: %w", err)
	}
	tok.AccessToken = accessToken
	tok.AccessTokenExpiry = expiry

	return drive.Credentials{AccessToken: tok.AccessToken}, nil
}

// reconcile diffs one page of remote folder contents against stored
// recordings: unknown files are inserted, files whose remote modification
// time advanced are updated in place, everything else is untouched. Files
// absent from the page are deliberately left alone; absence may be a
// pagination artifact rather than a deletion.
func (s *Syncer) reconcile(ctx context.Context, teacherID, classID string, creds drive.Credentials, folderID string, pageSize int64) (Result, error) {
	var res Result

	cctx, cancel := s.callCtx(ctx)
	list, err := s.drive.ListFolderFiles(cctx, creds, folderID, drive.ListOptions{PageSize: pageSize})
	cancel()
	if err != nil {
		return res, fmt.Errorf("list folder files: %w", err)
	}

	now := s.now()
	for _, f := range list.Files {
		existing, err := s.store.Recordings.GetByDriveFileID(ctx, f.ID)
		if err != nil {
			return res, fmt.Errorf("look up recording %s: %w", f.ID, err)
		}

		switch {
		case existing == nil:
			rec := store.Recording{
				DriveFileID:      f.ID,
				ClassID:          classID,
				TeacherID:        teacherID,
				Title:            f.Name,
				ViewURL:          f.ViewURL,
				DownloadURL:      optional(f.DownloadURL),
				ThumbnailURL:     optional(f.ThumbnailURL),
				SizeBytes:        f.SizeBytes,
				MimeType:         f.MimeType,
				RemoteCreatedAt:  f.CreatedAt,
				RemoteModifiedAt: f.ModifiedAt,
				SyncedAt:         now,
				Status:           store.RecordingActive,
			}
			if _, err := s.store.Recordings.Insert(ctx, rec); err != nil {
				return res, fmt.Errorf("insert recording %s: %w", f.ID, err)
			}
			res.NewCount++

		case f.ModifiedAt.After(existing.RemoteModifiedAt):
			updated := *existing
			updated.Title = f.Name
			updated.ViewURL = f.ViewURL
			updated.DownloadURL = optional(f.DownloadURL)
			updated.ThumbnailURL = optional(f.ThumbnailURL)
			updated.SizeBytes = f.SizeBytes
			updated.MimeType = f.MimeType
			updated.RemoteModifiedAt = f.ModifiedAt
			updated.SyncedAt = now
			if err := s.store.Recordings.UpdateMetadata(ctx, updated); err != nil {
				return res, fmt.Errorf("update recording %s: %w", f.ID, err)
			}
			res.UpdatedCount++
		}
	}

	res.TotalFiles = len(list.Files)
	return res, nil
}

// SyncClass runs one reconciliation of tok's folder into classID under the
// teacher's advisory lock, refreshing credentials first and stamping
// last_synced_at afterwards.
func (s *Syncer) SyncClass(ctx context.Context, tok *store.TeacherToken, classID, trigger string) (Result, error) {
	if tok.DriveFolderID == nil {
		return Result{}, ErrNoFolderConfigured
	}

	release := s.locks.acquire(tok.TeacherID)
	defer release()

	creds, err := s.freshCredentials(ctx, tok)
	if err != nil {
		metrics.ObserveSyncRun(trigger, "error")
		return Result{}, err
	}

	pageSize := int64(eventPageSize)
	if trigger == TriggerPoll {
		pageSize = s.opts.PollPageSize
	}

	res, err := s.reconcile(ctx, tok.TeacherID, classID, creds, *tok.DriveFolderID, pageSize)
	if err != nil {
		metrics.ObserveSyncRun(trigger, "error")
		return res, err
	}

	if err := s.store.Tokens.TouchLastSynced(ctx, tok.TeacherID, s.now()); err != nil {
		s.log.WithField("teacher_id", tok.TeacherID).WithError(err).Warn("failed to stamp last sync time")
	}

	metrics.ObserveSyncRun(trigger, "ok")
	metrics.AddRecordingsSynced("new", res.NewCount)
	metrics.AddRecordingsSynced("updated", res.UpdatedCount)

	s.log.WithFields(logrus.Fields{
		"teacher_id": tok.TeacherID,
		"class_id":   classID,
		"trigger":    trigger,
		"new":        res.NewCount,
		"updated":    res.UpdatedCount,
		"total":      res.TotalFiles,
	}).Info("reconciliation complete")

	return res, nil
}

// ConfigureFolder validates and stores the folder a teacher wants mirrored,
// rotates the push channel onto it, and runs the initial reconciliation.
func (s *Syncer) ConfigureFolder(ctx context.Context, teacherID, folderURL, classID string) (*ConfigureResult, error) {
	folderID, err := drive.ExtractFolderID(folderURL)
	if err != nil {
		return nil, err
	}

	class, err := s.store.Classes.GetByID(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("look up class: %w", err)
	}
	if class == nil || class.TeacherID != teacherID {
		return nil, ErrClassNotFound
	}

	tok, err := s.store.Tokens.GetByTeacher(ctx, teacherID)
	if err != nil {
		return nil, fmt.Errorf("look up token record: %w", err)
	}
	if tok == nil {
		return nil, ErrNotConnected
	}

	creds, err := s.freshCredentials(ctx, tok)
	if err != nil {
		return nil, err
	}

	// Probe access before committing the configuration.
	cctx, cancel := s.callCtx(ctx)
	_, err = s.drive.ListFolderFiles(cctx, creds, folderID, drive.ListOptions{PageSize: 1})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("probe folder access: %w", err)
	}

	// Stop-then-create keeps provider channel quota from accumulating
	// orphans when a folder is reconfigured.
	if tok.HasWebhook() {
		s.stopWatchBestEffort(ctx, creds, tok)
	}

	cctx, cancel = s.callCtx(ctx)
	channel, err := s.drive.CreateWatch(cctx, creds, folderID, s.opts.CallbackURL)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("register watch channel: %w", err)
	}

	if err := s.store.Tokens.UpdateFolder(ctx, teacherID, folderID, folderURL, classID); err != nil {
		return nil, fmt.Errorf("persist folder configuration: %w", err)
	}
	if err := s.store.Tokens.UpdateWebhook(ctx, teacherID, channel.ChannelID, channel.ResourceID, channel.ExpiresAt); err != nil {
		return nil, fmt.Errorf("persist watch channel: %w", err)
	}
	tok.DriveFolderID = &folderID
	tok.ClassID = &classID

	initial, err := s.SyncClass(ctx, tok, classID, TriggerManual)
	if err != nil {
		// Folder and channel are in place; the poller will pick up
		// whatever the initial sync missed.
		s.log.WithField("teacher_id", teacherID).WithError(err).Warn("initial reconciliation failed")
	}

	return &ConfigureResult{
		FolderID:      folderID,
		WebhookExpiry: channel.ExpiresAt,
		Initial:       initial,
	}, nil
}

// Disconnect stops the teacher's push channel (best effort) and deletes the
// token record. Synced recordings are left in place.
func (s *Syncer) Disconnect(ctx context.Context, teacherID string) error {
	tok, err := s.store.Tokens.GetByTeacher(ctx, teacherID)
	if err != nil {
		return fmt.Errorf("look up token record: %w", err)
	}
	if tok == nil {
		return nil
	}

	if tok.HasWebhook() {
		if creds, err := s.freshCredentials(ctx, tok); err == nil {
			s.stopWatchBestEffort(ctx, creds, tok)
		}
	}

	return s.store.Tokens.Delete(ctx, teacherID)
}

func (s *Syncer) stopWatchBestEffort(ctx context.Context, creds drive.Credentials, tok *store.TeacherToken) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.drive.StopWatch(cctx, creds, *tok.WebhookChannelID, *tok.WebhookResourceID); err != nil {
		s.log.WithFields(logrus.Fields{
			"teacher_id": tok.TeacherID,
			"channel_id": *tok.WebhookChannelID,
		}).WithError(err).Warn("failed to stop old watch channel")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
