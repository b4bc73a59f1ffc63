package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eduspace/classdrive/internal/drive"
	"github.com/eduspace/classdrive/internal/store"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestSyncer(tokens *fakeTokenRepo, recordings *fakeRecordingRepo, classes *fakeClassRepo, d *fakeDrive) *Syncer {
	s := New(&store.Store{Tokens: tokens, Recordings: recordings, Classes: classes}, d, Options{
		CallbackURL:    "https://app.example.com/webhooks/google-drive",
		LeadTime:       2 * time.Hour,
		RequestTimeout: 5 * time.Second,
		PollPageSize:   50,
	}, testLogger())
	s.now = func() time.Time { return testNow }
	return s
}

func activeToken(teacherID string) *store.TeacherToken {
	return &store.TeacherToken{
		TeacherID:         teacherID,
		GoogleEmail:       teacherID + "@example.com",
		AccessToken:       "access-" + teacherID,
		RefreshToken:      "refresh-" + teacherID,
		AccessTokenExpiry: testNow.Add(time.Hour),
		SyncStatus:        store.SyncActive,
	}
}

func connectedToken(teacherID, folderID, classID string) *store.TeacherToken {
	tok := activeToken(teacherID)
	tok.DriveFolderID = strptr(folderID)
	tok.DriveFolderURL = strptr("https://drive.google.com/drive/folders/" + folderID)
	tok.ClassID = strptr(classID)
	return tok
}

func driveFile(id, name string, modified time.Time) drive.File {
	return drive.File{
		ID:          id,
		Name:        name,
		MimeType:    "video/mp4",
		SizeBytes:   1024,
		CreatedAt:   modified.Add(-time.Hour),
		ModifiedAt:  modified,
		ViewURL:     "https://drive.google.com/file/d/" + id + "/view",
		DownloadURL: "https://drive.google.com/uc?id=" + id,
	}
}

func TestSyncClassInsertsNewFiles(t *testing.T) {
	tokens := newFakeTokenRepo(connectedToken("t1", "folder-1", "class-1"))
	recordings := newFakeRecordingRepo()
	d := &fakeDrive{files: []drive.File{
		driveFile("file-1", "Lesson 1", testNow.Add(-3*time.Hour)),
		driveFile("file-2", "Lesson 2", testNow.Add(-2*time.Hour)),
		driveFile("file-3", "Lesson 3", testNow.Add(-time.Hour)),
	}}
	s := newTestSyncer(tokens, recordings, newFakeClassRepo(), d)

	tok, _ := tokens.GetByTeacher(context.Background(), "t1")
	res, err := s.SyncClass(context.Background(), tok, "class-1", TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.NewCount != 3 || res.UpdatedCount != 0 || res.TotalFiles != 3 {
		t.Fatalf("result = %+v, want 3 new, 0 updated, 3 total", res)
	}

	rec, _ := recordings.GetByDriveFileID(context.Background(), "file-2")
	if rec == nil {
		t.Fatal("expected recording for file-2")
	}
	if rec.Title != "Lesson 2" || rec.ClassID != "class-1" || rec.TeacherID != "t1" {
		t.Fatalf("recording = %+v", rec)
	}
	if rec.Status != store.RecordingActive {
		t.Fatalf("status = %q, want active", rec.Status)
	}

	stored, _ := tokens.GetByTeacher(context.Background(), "t1")
	if stored.LastSyncedAt == nil || !stored.LastSyncedAt.Equal(testNow) {
		t.Fatalf("last synced at = %v, want %v", stored.LastSyncedAt, testNow)
	}
}

func TestSyncClassIsIdempotent(t *testing.T) {
	tokens := newFakeTokenRepo(connectedToken("t1", "folder-1", "class-1"))
	recordings := newFakeRecordingRepo()
	d := &fakeDrive{files: []drive.File{
		driveFile("file-1", "Lesson 1", testNow.Add(-time.Hour)),
		driveFile("file-2", "Lesson 2", testNow.Add(-time.Hour)),
	}}
	s := newTestSyncer(tokens, recordings, newFakeClassRepo(), d)

	tok, _ := tokens.GetByTeacher(context.Background(), "t1")
	if _, err := s.SyncClass(context.Background(), tok, "class-1", TriggerManual); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	res, err := s.SyncClass(context.Background(), tok, "class-1", TriggerManual)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.NewCount != 0 || res.UpdatedCount != 0 {
		t.Fatalf("second sync result = %+v, want no changes", res)
	}

	count, _ := recordings.CountByClass(context.Background(), "class-1")
	if count != 2 {
		t.Fatalf("recording count = %d, want 2", count)
	}
}

func TestSyncClassUpdatesRenamedFile(t *testing.T) {
	tokens := newFakeTokenRepo(connectedToken("t1", "folder-1", "class-1"))
	recordings := newFakeRecordingRepo()
	d := &fakeDrive{files: []drive.File{
		driveFile("file-1", "Lesson 1", testNow.Add(-2*time.Hour)),
	}}
	s := newTestSyncer(tokens, recordings, newFakeClassRepo(), d)

	tok, _ := tokens.GetByTeacher(context.Background(), "t1")
	if _, err := s.SyncClass(context.Background(), tok, "class-1", TriggerManual); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// Remote rename advances the modification time.
	renamed := driveFile("file-1", "Lesson 1 (final)", testNow.Add(-time.Hour))
	d.files = []drive.File{renamed}

	res, err := s.SyncClass(context.Background(), tok, "class-1", TriggerWebhook)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.NewCount != 0 || res.UpdatedCount != 1 {
		t.Fatalf("result = %+v, want 0 new, 1 updated", res)
	}

	rec, _ := recordings.GetByDriveFileID(context.Background(), "file-1")
	if rec.Title != "Lesson 1 (final)" {
		t.Fatalf("title = %q, want renamed title", rec.Title)
	}

	// Same page again: modification time did not advance, nothing happens.
	res, err = s.SyncClass(context.Background(), tok, "class-1", TriggerWebhook)
	if err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if res.NewCount != 0 || res.UpdatedCount != 0 {
		t.Fatalf("third sync result = %+v, want no changes", res)
	}
}

func TestSyncClassNeverDeletesAbsentFiles(t *testing.T) {
	tokens := newFakeTokenRepo(connectedToken("t1", "folder-1", "class-1"))
	recordings := newFakeRecordingRepo()
	d := &fakeDrive{files: []drive.File{
		driveFile("file-1", "Lesson 1", testNow.Add(-2*time.Hour)),
		driveFile("file-2", "Lesson 2", testNow.Add(-time.Hour)),
	}}
	s := newTestSyncer(tokens, recordings, newFakeClassRepo(), d)

	tok, _ := tokens.GetByTeacher(context.Background(), "t1")
	if _, err := s.SyncClass(context.Background(), tok, "class-1", TriggerManual); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// file-1 drops off the page (removed remotely or paged out).
	d.files = []drive.File{driveFile("file-2", "Lesson 2", testNow.Add(-time.Hour))}
	if _, err := s.SyncClass(context.Background(), tok, "class-1", TriggerPoll); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	rec, _ := recordings.GetByDriveFileID(context.Background(), "file-1")
	if rec == nil || rec.Status != store.RecordingActive {
		t.Fatalf("file-1 recording = %+v, want untouched active record", rec)
	}
}

func TestSyncClassRefreshesExpiredCredentials(t *testing.T) {
	tok := connectedToken("t1", "folder-1", "class-1")
	tok.AccessTokenExpiry = testNow.Add(-time.Minute)
	tokens := newFakeTokenRepo(tok)
	d := &fakeDrive{
		refreshAccessToken: "fresh-access",
		refreshExpiry:      testNow.Add(time.Hour),
	}
	s := newTestSyncer(tokens, newFakeRecordingRepo(), newFakeClassRepo(), d)

	loaded, _ := tokens.GetByTeacher(context.Background(), "t1")
	if _, err := s.SyncClass(context.Background(), loaded, "class-1", TriggerManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.refreshCalls != 1 {
		t.Fatalf("refresh calls = %d, want 1", d.refreshCalls)
	}
	if len(d.listCalls) != 1 || d.listCalls[0].accessToken != "fresh-access" {
		t.Fatalf("list calls = %+v, want one call with refreshed token", d.listCalls)
	}

	stored, _ := tokens.GetByTeacher(context.Background(), "t1")
	if stored.AccessToken != "fresh-access" {
		t.Fatalf("stored access token = %q, want refreshed token persisted", stored.AccessToken)
	}
}

func TestSyncClassSkipsRefreshForValidCredentials(t *testing.T) {
	tokens := newFakeTokenRepo(connectedToken("t1", "folder-1", "class-1"))
	d := &fakeDrive{}
	s := newTestSyncer(tokens, newFakeRecordingRepo(), newFakeClassRepo(), d)

	tok, _ := tokens.GetByTeacher(context.Background(), "t1")
	if _, err := s.SyncClass(context.Background(), tok, "class-1", TriggerManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.refreshCalls != 0 {
		t.Fatalf("refresh calls = %d, want 0", d.refreshCalls)
	}
}

func TestSyncClassRevokedGrantMarksError(t *testing.T) {
	tok := connectedToken("t1", "folder-1", "class-1")
	tok.AccessTokenExpiry = testNow.Add(-time.Minute)
	tokens := newFakeTokenRepo(tok)
	d := &fakeDrive{refreshErr: drive.ErrAuth}
	s := newTestSyncer(tokens, newFakeRecordingRepo(), newFakeClassRepo(), d)

	loaded, _ := tokens.GetByTeacher(context.Background(), "t1")
	_, err := s.SyncClass(context.Background(), loaded, "class-1", TriggerPoll)
	if !errors.Is(err, drive.ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}

	stored, _ := tokens.GetByTeacher(context.Background(), "t1")
	if stored.SyncStatus != store.SyncError {
		t.Fatalf("sync status = %q, want error", stored.SyncStatus)
	}
	if stored.LastError == nil {
		t.Fatal("expected last error to be recorded")
	}
}

func TestSyncClassTransientRefreshFailureDoesNotMarkError(t *testing.T) {
	tok := connectedToken("t1", "folder-1", "class-1")
	tok.AccessTokenExpiry = testNow.Add(-time.Minute)
	tokens := newFakeTokenRepo(tok)
	d := &fakeDrive{refreshErr: drive.ErrNetwork}
	s := newTestSyncer(tokens, newFakeRecordingRepo(), newFakeClassRepo(), d)

	loaded, _ := tokens.GetByTeacher(context.Background(), "t1")
	if _, err := s.SyncClass(context.Background(), loaded, "class-1", TriggerPoll); err == nil {
		t.Fatal("expected error")
	}

	stored, _ := tokens.GetByTeacher(context.Background(), "t1")
	if stored.SyncStatus != store.SyncActive {
		t.Fatalf("sync status = %q, want still active after transient failure", stored.SyncStatus)
	}
}

func TestSyncClassWithoutFolder(t *testing.T) {
	tokens := newFakeTokenRepo(activeToken("t1"))
	s := newTestSyncer(tokens, newFakeRecordingRepo(), newFakeClassRepo(), &fakeDrive{})

	tok, _ := tokens.GetByTeacher(context.Background(), "t1")
	if _, err := s.SyncClass(context.Background(), tok, "class-1", TriggerManual); !errors.Is(err, ErrNoFolderConfigured) {
		t.Fatalf("error = %v, want ErrNoFolderConfigured", err)
	}
}

func TestSyncClassPageSizeByTrigger(t *testing.T) {
	tokens := newFakeTokenRepo(connectedToken("t1", "folder-1", "class-1"))
	d := &fakeDrive{}
	s := newTestSyncer(tokens, newFakeRecordingRepo(), newFakeClassRepo(), d)

	tok, _ := tokens.GetByTeacher(context.Background(), "t1")
	if _, err := s.SyncClass(context.Background(), tok, "class-1", TriggerPoll); err != nil {
		t.Fatalf("poll sync: %v", err)
	}
	if _, err := s.SyncClass(context.Background(), tok, "class-1", TriggerWebhook); err != nil {
		t.Fatalf("webhook sync: %v", err)
	}

	if len(d.listCalls) != 2 {
		t.Fatalf("list calls = %d, want 2", len(d.listCalls))
	}
	if d.listCalls[0].pageSize != 50 {
		t.Fatalf("poll page size = %d, want 50", d.listCalls[0].pageSize)
	}
	if d.listCalls[1].pageSize != 100 {
		t.Fatalf("webhook page size = %d, want 100", d.listCalls[1].pageSize)
	}
}

func TestConfigureFolder(t *testing.T) {
	tests := []struct {
		name      string
		folderURL string
		classID   string
		tokens    []*store.TeacherToken
		classes   []*store.Class
		wantErr   error
	}{
		{
			name:      "success",
			folderURL: "https://drive.google.com/drive/folders/folder-xyz",
			classID:   "class-1",
			tokens:    []*store.TeacherToken{activeToken("t1")},
			classes:   []*store.Class{{ID: "class-1", TeacherID: "t1", Name: "Algebra"}},
		},
		{
			name:      "invalid folder url",
			folderURL: "https://example.com/nothing-here",
			classID:   "class-1",
			tokens:    []*store.TeacherToken{activeToken("t1")},
			classes:   []*store.Class{{ID: "class-1", TeacherID: "t1", Name: "Algebra"}},
			wantErr:   drive.ErrInvalidFolderURL,
		},
		{
			name:      "class owned by another teacher",
			folderURL: "https://drive.google.com/drive/folders/folder-xyz",
			classID:   "class-1",
			tokens:    []*store.TeacherToken{activeToken("t1")},
			classes:   []*store.Class{{ID: "class-1", TeacherID: "t2", Name: "Algebra"}},
			wantErr:   ErrClassNotFound,
		},
		{
			name:      "unknown class",
			folderURL: "https://drive.google.com/drive/folders/folder-xyz",
			classID:   "missing",
			tokens:    []*store.TeacherToken{activeToken("t1")},
			classes:   []*store.Class{{ID: "class-1", TeacherID: "t1", Name: "Algebra"}},
			wantErr:   ErrClassNotFound,
		},
		{
			name:      "drive not connected",
			folderURL: "https://drive.google.com/drive/folders/folder-xyz",
			classID:   "class-1",
			classes:   []*store.Class{{ID: "class-1", TeacherID: "t1", Name: "Algebra"}},
			wantErr:   ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := newFakeTokenRepo(tt.tokens...)
			classes := newFakeClassRepo(tt.classes...)
			d := &fakeDrive{watchExpiry: testNow.Add(24 * time.Hour)}
			s := newTestSyncer(tokens, newFakeRecordingRepo(), classes, d)

			result, err := s.ConfigureFolder(context.Background(), "t1", tt.folderURL, tt.classID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if result.FolderID != "folder-xyz" {
				t.Fatalf("folder id = %q, want folder-xyz", result.FolderID)
			}
			if !result.WebhookExpiry.Equal(testNow.Add(24 * time.Hour)) {
				t.Fatalf("webhook expiry = %v", result.WebhookExpiry)
			}

			stored, _ := tokens.GetByTeacher(context.Background(), "t1")
			if stored.DriveFolderID == nil || *stored.DriveFolderID != "folder-xyz" {
				t.Fatalf("stored folder id = %v", stored.DriveFolderID)
			}
			if stored.ClassID == nil || *stored.ClassID != "class-1" {
				t.Fatalf("stored class id = %v", stored.ClassID)
			}
			if !stored.HasWebhook() {
				t.Fatal("expected webhook channel to be registered")
			}
		})
	}
}

func TestConfigureFolderReplacesExistingChannel(t *testing.T) {
	tok := connectedToken("t1", "old-folder", "class-1")
	tok.WebhookChannelID = strptr("old-channel")
	tok.WebhookResourceID = strptr("old-resource")
	tok.WebhookExpiry = timeptr(testNow.Add(10 * time.Hour))
	tokens := newFakeTokenRepo(tok)
	classes := newFakeClassRepo(&store.Class{ID: "class-2", TeacherID: "t1", Name: "Geometry"})
	d := &fakeDrive{watchExpiry: testNow.Add(24 * time.Hour)}
	s := newTestSyncer(tokens, newFakeRecordingRepo(), classes, d)

	if _, err := s.ConfigureFolder(context.Background(), "t1", "https://drive.google.com/drive/folders/new-folder", "class-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(d.stopCalls) != 1 || d.stopCalls[0] != "old-channel" {
		t.Fatalf("stop calls = %v, want old channel stopped first", d.stopCalls)
	}

	stored, _ := tokens.GetByTeacher(context.Background(), "t1")
	if *stored.WebhookChannelID == "old-channel" {
		t.Fatal("expected a fresh channel id")
	}
	if *stored.DriveFolderID != "new-folder" || *stored.ClassID != "class-2" {
		t.Fatalf("stored folder/class = %v/%v", *stored.DriveFolderID, *stored.ClassID)
	}
}

func TestDisconnect(t *testing.T) {
	tok := connectedToken("t1", "folder-1", "class-1")
	tok.WebhookChannelID = strptr("chan-1")
	tok.WebhookResourceID = strptr("res-1")
	tok.WebhookExpiry = timeptr(testNow.Add(10 * time.Hour))
	tokens := newFakeTokenRepo(tok)
	d := &fakeDrive{}
	s := newTestSyncer(tokens, newFakeRecordingRepo(), newFakeClassRepo(), d)

	if err := s.Disconnect(context.Background(), "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(d.stopCalls) != 1 || d.stopCalls[0] != "chan-1" {
		t.Fatalf("stop calls = %v, want channel stopped", d.stopCalls)
	}
	if stored, _ := tokens.GetByTeacher(context.Background(), "t1"); stored != nil {
		t.Fatal("expected token record to be deleted")
	}
}

func TestDisconnectWithoutConnection(t *testing.T) {
	tokens := newFakeTokenRepo()
	s := newTestSyncer(tokens, newFakeRecordingRepo(), newFakeClassRepo(), &fakeDrive{})

	if err := s.Disconnect(context.Background(), "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
