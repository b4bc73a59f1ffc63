package syncer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eduspace/classdrive/internal/drive"
	"github.com/eduspace/classdrive/internal/store"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeTokenRepo struct {
	tokens map[string]*store.TeacherToken

	markErrorCalls    []string
	clearWebhookCalls []string
	deleteCalls       []string
}

func newFakeTokenRepo(tokens ...*store.TeacherToken) *fakeTokenRepo {
	repo := &fakeTokenRepo{tokens: make(map[string]*store.TeacherToken)}
	for _, tok := range tokens {
		copied := *tok
		repo.tokens[tok.TeacherID] = &copied
	}
	return repo
}

func (r *fakeTokenRepo) Upsert(ctx context.Context, tok store.TeacherToken) (*store.TeacherToken, error) {
	if existing, ok := r.tokens[tok.TeacherID]; ok {
		tok.DriveFolderID = existing.DriveFolderID
		tok.DriveFolderURL = existing.DriveFolderURL
		tok.ClassID = existing.ClassID
		tok.WebhookChannelID = existing.WebhookChannelID
		tok.WebhookResourceID = existing.WebhookResourceID
		tok.WebhookExpiry = existing.WebhookExpiry
	}
	copied := tok
	r.tokens[tok.TeacherID] = &copied
	result := copied
	return &result, nil
}

func (r *fakeTokenRepo) GetByTeacher(ctx context.Context, teacherID string) (*store.TeacherToken, error) {
	tok, ok := r.tokens[teacherID]
	if !ok {
		return nil, nil
	}
	copied := *tok
	return &copied, nil
}

func (r *fakeTokenRepo) GetByChannel(ctx context.Context, channelID, resourceID string) (*store.TeacherToken, error) {
	for _, tok := range r.tokens {
		if tok.WebhookChannelID != nil && *tok.WebhookChannelID == channelID &&
			tok.WebhookResourceID != nil && *tok.WebhookResourceID == resourceID {
			copied := *tok
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeTokenRepo) ListActiveWithFolder(ctx context.Context) ([]store.TeacherToken, error) {
	var result []store.TeacherToken
	for _, tok := range r.tokens {
		if tok.SyncStatus == store.SyncActive && tok.DriveFolderID != nil {
			result = append(result, *tok)
		}
	}
	return result, nil
}

func (r *fakeTokenRepo) ListExpiringWebhooks(ctx context.Context, cutoff time.Time) ([]store.TeacherToken, error) {
	var result []store.TeacherToken
	for _, tok := range r.tokens {
		if tok.SyncStatus == store.SyncActive && tok.WebhookChannelID != nil &&
			tok.WebhookExpiry != nil && !tok.WebhookExpiry.After(cutoff) {
			result = append(result, *tok)
		}
	}
	return result, nil
}

func (r *fakeTokenRepo) UpdateAccessToken(ctx context.Context, teacherID, accessToken string, expiry time.Time) error {
	tok, ok := r.tokens[teacherID]
	if !ok {
		return fmt.Errorf("no token record for %s", teacherID)
	}
	tok.AccessToken = accessToken
	tok.AccessTokenExpiry = expiry
	return nil
}

func (r *fakeTokenRepo) UpdateFolder(ctx context.Context, teacherID, folderID, folderURL, classID string) error {
	tok, ok := r.tokens[teacherID]
	if !ok {
		return fmt.Errorf("no token record for %s", teacherID)
	}
	tok.DriveFolderID = &folderID
	tok.DriveFolderURL = &folderURL
	tok.ClassID = &classID
	tok.SyncStatus = store.SyncActive
	tok.LastError = nil
	return nil
}

func (r *fakeTokenRepo) UpdateWebhook(ctx context.Context, teacherID, channelID, resourceID string, expiry time.Time) error {
	tok, ok := r.tokens[teacherID]
	if !ok {
		return fmt.Errorf("no token record for %s", teacherID)
	}
	tok.WebhookChannelID = &channelID
	tok.WebhookResourceID = &resourceID
	tok.WebhookExpiry = &expiry
	return nil
}

func (r *fakeTokenRepo) ClearWebhook(ctx context.Context, teacherID string) error {
	r.clearWebhookCalls = append(r.clearWebhookCalls, teacherID)
	tok, ok := r.tokens[teacherID]
	if !ok {
		return fmt.Errorf("no token record for %s", teacherID)
	}
	tok.WebhookChannelID = nil
	tok.WebhookResourceID = nil
	tok.WebhookExpiry = nil
	return nil
}

func (r *fakeTokenRepo) TouchLastSynced(ctx context.Context, teacherID string, at time.Time) error {
	tok, ok := r.tokens[teacherID]
	if !ok {
		return fmt.Errorf("no token record for %s", teacherID)
	}
	tok.LastSyncedAt = &at
	return nil
}

func (r *fakeTokenRepo) MarkError(ctx context.Context, teacherID, message string) error {
	r.markErrorCalls = append(r.markErrorCalls, teacherID)
	tok, ok := r.tokens[teacherID]
	if !ok {
		return fmt.Errorf("no token record for %s", teacherID)
	}
	tok.SyncStatus = store.SyncError
	tok.LastError = &message
	return nil
}

func (r *fakeTokenRepo) Delete(ctx context.Context, teacherID string) error {
	r.deleteCalls = append(r.deleteCalls, teacherID)
	delete(r.tokens, teacherID)
	return nil
}

type fakeRecordingRepo struct {
	recordings map[string]*store.Recording // keyed by drive file id
	nextID     int64
}

func newFakeRecordingRepo() *fakeRecordingRepo {
	return &fakeRecordingRepo{recordings: make(map[string]*store.Recording)}
}

func (r *fakeRecordingRepo) GetByDriveFileID(ctx context.Context, driveFileID string) (*store.Recording, error) {
	rec, ok := r.recordings[driveFileID]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (r *fakeRecordingRepo) Insert(ctx context.Context, rec store.Recording) (*store.Recording, error) {
	if _, ok := r.recordings[rec.DriveFileID]; ok {
		return nil, fmt.Errorf("duplicate drive file id %s", rec.DriveFileID)
	}
	r.nextID++
	rec.ID = r.nextID
	rec.AddedAt = rec.SyncedAt
	copied := rec
	r.recordings[rec.DriveFileID] = &copied
	result := copied
	return &result, nil
}

func (r *fakeRecordingRepo) UpdateMetadata(ctx context.Context, rec store.Recording) error {
	existing, ok := r.recordings[rec.DriveFileID]
	if !ok {
		return fmt.Errorf("no recording for drive file id %s", rec.DriveFileID)
	}
	rec.ID = existing.ID
	rec.Status = existing.Status
	rec.AddedAt = existing.AddedAt
	copied := rec
	r.recordings[rec.DriveFileID] = &copied
	return nil
}

func (r *fakeRecordingRepo) ListByClass(ctx context.Context, classID string, limit, offset int) ([]store.Recording, error) {
	var result []store.Recording
	for _, rec := range r.recordings {
		if rec.ClassID == classID && rec.Status == store.RecordingActive {
			result = append(result, *rec)
		}
	}
	return result, nil
}

func (r *fakeRecordingRepo) CountByClass(ctx context.Context, classID string) (int, error) {
	count := 0
	for _, rec := range r.recordings {
		if rec.ClassID == classID && rec.Status == store.RecordingActive {
			count++
		}
	}
	return count, nil
}

type fakeClassRepo struct {
	classes map[string]*store.Class
}

func newFakeClassRepo(classes ...*store.Class) *fakeClassRepo {
	repo := &fakeClassRepo{classes: make(map[string]*store.Class)}
	for _, class := range classes {
		copied := *class
		repo.classes[class.ID] = &copied
	}
	return repo
}

func (r *fakeClassRepo) GetByID(ctx context.Context, id string) (*store.Class, error) {
	class, ok := r.classes[id]
	if !ok {
		return nil, nil
	}
	copied := *class
	return &copied, nil
}

func (r *fakeClassRepo) ListByTeacher(ctx context.Context, teacherID string) ([]store.Class, error) {
	var result []store.Class
	for _, class := range r.classes {
		if class.TeacherID == teacherID {
			result = append(result, *class)
		}
	}
	return result, nil
}

func (r *fakeClassRepo) Create(ctx context.Context, class store.Class) (*store.Class, error) {
	copied := class
	r.classes[class.ID] = &copied
	result := copied
	return &result, nil
}

type listCall struct {
	accessToken string
	folderID    string
	pageSize    int64
}

type fakeDrive struct {
	files   []drive.File
	listErr error

	refreshAccessToken string
	refreshExpiry      time.Time
	refreshErr         error

	watchExpiry      time.Time
	watchErrByFolder map[string]error
	watchCount       int

	stopErr error

	listCalls    []listCall
	refreshCalls int
	stopCalls    []string
	watchCalls   []string
}

func (d *fakeDrive) RefreshAccessToken(ctx context.Context, refreshToken string) (string, time.Time, error) {
	d.refreshCalls++
	if d.refreshErr != nil {
		return "", time.Time{}, d.refreshErr
	}
	return d.refreshAccessToken, d.refreshExpiry, nil
}

func (d *fakeDrive) ListFolderFiles(ctx context.Context, creds drive.Credentials, folderID string, opts drive.ListOptions) (*drive.FileList, error) {
	d.listCalls = append(d.listCalls, listCall{accessToken: creds.AccessToken, folderID: folderID, pageSize: opts.PageSize})
	if d.listErr != nil {
		return nil, d.listErr
	}
	return &drive.FileList{Files: d.files}, nil
}

func (d *fakeDrive) CreateWatch(ctx context.Context, creds drive.Credentials, folderID, callbackURL string) (*drive.WatchChannel, error) {
	d.watchCalls = append(d.watchCalls, folderID)
	if err := d.watchErrByFolder[folderID]; err != nil {
		return nil, err
	}
	d.watchCount++
	return &drive.WatchChannel{
		ChannelID:  fmt.Sprintf("new-channel-%d", d.watchCount),
		ResourceID: fmt.Sprintf("new-resource-%d", d.watchCount),
		ExpiresAt:  d.watchExpiry,
	}, nil
}

func (d *fakeDrive) StopWatch(ctx context.Context, creds drive.Credentials, channelID, resourceID string) error {
	d.stopCalls = append(d.stopCalls, channelID)
	return d.stopErr
}

func strptr(s string) *string { return &s }

func timeptr(t time.Time) *time.Time { return &t }
