package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/eduspace/classdrive/internal/auth"
	"github.com/eduspace/classdrive/internal/config"
	"github.com/eduspace/classdrive/internal/drive"
	httperrors "github.com/eduspace/classdrive/internal/http/errors"
	"github.com/eduspace/classdrive/internal/store"
	"github.com/eduspace/classdrive/internal/syncer"
)

// OAuthProvider is the consent-flow surface the handlers need. Satisfied by
// *drive.Client.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// EmailVerifier extracts the connected Google account email from an
// exchanged token. Satisfied by *auth.GoogleVerifier.
type EmailVerifier interface {
	Email(ctx context.Context, token *oauth2.Token) (string, error)
}

// DriveHandler serves the Drive connection and sync endpoints.
type DriveHandler struct {
	cfg      *config.Config
	store    *store.Store
	syncer   *syncer.Syncer
	oauth    OAuthProvider
	verifier EmailVerifier
	log      logrus.FieldLogger
}

func NewDriveHandler(cfg *config.Config, st *store.Store, sync *syncer.Syncer, oauth OAuthProvider, verifier EmailVerifier, log logrus.FieldLogger) *DriveHandler {
	return &DriveHandler{cfg: cfg, store: st, syncer: sync, oauth: oauth, verifier: verifier, log: log}
}

// Connect returns the Google consent URL carrying a signed state token bound
// to the requesting teacher.
func (h *DriveHandler) Connect(w http.ResponseWriter, r *http.Request) {
	teacherID, _ := auth.TeacherIDFromContext(r.Context())

	state, err := auth.EncodeState(teacherID, h.cfg.JWT.Secret)
	if err != nil {
		httperrors.Internal(w, r, h.log, err, "failed to sign oauth state")
		return
	}

	httperrors.JSON(w, http.StatusOK, map[string]string{
		"url": h.oauth.AuthCodeURL(state),
	})
}

// Callback completes the consent flow: validates state, exchanges the code,
// verifies the returned identity, and stores the credential record. The
// browser lands back on the dashboard either way; outcomes travel as query
// flags.
func (h *DriveHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.log.WithField("reason", errParam).Warn("consent flow declined")
		h.redirectToDashboard(w, r, "error", "consent_declined")
		return
	}

	teacherID, err := auth.DecodeState(r.URL.Query().Get("state"), h.cfg.JWT.Secret)
	if err != nil {
		h.log.WithError(err).Warn("oauth callback with invalid state")
		h.redirectToDashboard(w, r, "error", "invalid_state")
		return
	}

	token, err := h.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.log.WithField("teacher_id", teacherID).WithError(err).Error("code exchange failed")
		h.redirectToDashboard(w, r, "error", "exchange_failed")
		return
	}
	if token.RefreshToken == "" {
		// Offline access plus forced consent should guarantee one; without
		// it the connection would die as soon as the access token expires.
		h.log.WithField("teacher_id", teacherID).Error("exchange response carries no refresh token")
		h.redirectToDashboard(w, r, "error", "no_refresh_token")
		return
	}

	email, err := h.verifier.Email(r.Context(), token)
	if err != nil {
		h.log.WithField("teacher_id", teacherID).WithError(err).Error("id token verification failed")
		h.redirectToDashboard(w, r, "error", "identity_verification_failed")
		return
	}

	if _, err := h.store.Tokens.Upsert(r.Context(), store.TeacherToken{
		TeacherID:         teacherID,
		GoogleEmail:       email,
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		AccessTokenExpiry: token.Expiry,
		SyncStatus:        store.SyncActive,
	}); err != nil {
		h.log.WithField("teacher_id", teacherID).WithError(err).Error("failed to store token record")
		h.redirectToDashboard(w, r, "error", "storage_failed")
		return
	}

	h.log.WithFields(logrus.Fields{
		"teacher_id":   teacherID,
		"google_email": email,
	}).Info("google drive connected")
	h.redirectToDashboard(w, r, "drive_connected", "true")
}

func (h *DriveHandler) redirectToDashboard(w http.ResponseWriter, r *http.Request, key, value string) {
	target, err := url.Parse(h.cfg.DashboardURL)
	if err != nil {
		httperrors.Internal(w, r, h.log, err, "invalid dashboard url")
		return
	}
	q := target.Query()
	q.Set(key, value)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

type statusResponse struct {
	Connected     bool       `json:"connected"`
	GoogleEmail   string     `json:"googleEmail,omitempty"`
	FolderID      *string    `json:"folderId,omitempty"`
	FolderURL     *string    `json:"folderUrl,omitempty"`
	ClassID       *string    `json:"classId,omitempty"`
	SyncStatus    string     `json:"syncStatus,omitempty"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
	WebhookExpiry *time.Time `json:"webhookExpiry,omitempty"`
}

// Status reports the teacher's connection state for the dashboard.
func (h *DriveHandler) Status(w http.ResponseWriter, r *http.Request) {
	teacherID, _ := auth.TeacherIDFromContext(r.Context())

	tok, err := h.store.Tokens.GetByTeacher(r.Context(), teacherID)
	if err != nil {
		httperrors.Internal(w, r, h.log, err, "failed to load token record")
		return
	}
	if tok == nil {
		httperrors.JSON(w, http.StatusOK, statusResponse{Connected: false})
		return
	}

	httperrors.JSON(w, http.StatusOK, statusResponse{
		Connected:     true,
		GoogleEmail:   tok.GoogleEmail,
		FolderID:      tok.DriveFolderID,
		FolderURL:     tok.DriveFolderURL,
		ClassID:       tok.ClassID,
		SyncStatus:    tok.SyncStatus,
		LastSyncedAt:  tok.LastSyncedAt,
		LastError:     tok.LastError,
		WebhookExpiry: tok.WebhookExpiry,
	})
}

type configureFolderRequest struct {
	FolderURL string `json:"folderUrl"`
	ClassID   string `json:"classId"`
}

// ConfigureFolder points the teacher's mirror at a Drive folder and class.
func (h *DriveHandler) ConfigureFolder(w http.ResponseWriter, r *http.Request) {
	teacherID, _ := auth.TeacherIDFromContext(r.Context())

	var req configureFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.BadRequest(w, r, h.log, err, "invalid request body")
		return
	}
	if req.FolderURL == "" || req.ClassID == "" {
		httperrors.Error(w, http.StatusBadRequest, "folderUrl and classId are required")
		return
	}

	result, err := h.syncer.ConfigureFolder(r.Context(), teacherID, req.FolderURL, req.ClassID)
	switch {
	case err == nil:
	case errors.Is(err, drive.ErrInvalidFolderURL):
		httperrors.Error(w, http.StatusBadRequest, "invalid google drive folder url")
		return
	case errors.Is(err, syncer.ErrClassNotFound):
		httperrors.Error(w, http.StatusNotFound, "class not found")
		return
	case errors.Is(err, syncer.ErrNotConnected):
		httperrors.Error(w, http.StatusNotFound, "google drive is not connected")
		return
	case errors.Is(err, drive.ErrNotFound):
		httperrors.Error(w, http.StatusBadRequest, "folder not found or not accessible")
		return
	case errors.Is(err, drive.ErrAuth):
		httperrors.Error(w, http.StatusUnauthorized, "google authorization expired; reconnect google drive")
		return
	default:
		httperrors.Internal(w, r, h.log, err, "failed to configure folder")
		return
	}

	httperrors.JSON(w, http.StatusOK, map[string]interface{}{
		"folderId":      result.FolderID,
		"webhookExpiry": result.WebhookExpiry,
		"initialSync":   result.Initial,
	})
}

// SyncNow runs an immediate reconciliation for one class.
func (h *DriveHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	teacherID, _ := auth.TeacherIDFromContext(r.Context())
	classID := chi.URLParam(r, "classID")

	class, err := h.store.Classes.GetByID(r.Context(), classID)
	if err != nil {
		httperrors.Internal(w, r, h.log, err, "failed to load class")
		return
	}
	if class == nil || class.TeacherID != teacherID {
		httperrors.Error(w, http.StatusNotFound, "class not found")
		return
	}

	tok, err := h.store.Tokens.GetByTeacher(r.Context(), teacherID)
	if err != nil {
		httperrors.Internal(w, r, h.log, err, "failed to load token record")
		return
	}
	if tok == nil {
		httperrors.Error(w, http.StatusNotFound, "google drive is not connected")
		return
	}

	result, err := h.syncer.SyncClass(r.Context(), tok, classID, syncer.TriggerManual)
	switch {
	case err == nil:
	case errors.Is(err, syncer.ErrNoFolderConfigured):
		httperrors.Error(w, http.StatusNotFound, "no drive folder configured")
		return
	case errors.Is(err, drive.ErrAuth):
		httperrors.Error(w, http.StatusUnauthorized, "google authorization expired; reconnect google drive")
		return
	default:
		httperrors.Internal(w, r, h.log, err, "manual sync failed")
		return
	}

	httperrors.JSON(w, http.StatusOK, result)
}

type recordingResponse struct {
	ID               int64     `json:"id"`
	DriveFileID      string    `json:"driveFileId"`
	Title            string    `json:"title"`
	ViewURL          string    `json:"viewUrl"`
	DownloadURL      *string   `json:"downloadUrl,omitempty"`
	ThumbnailURL     *string   `json:"thumbnailUrl,omitempty"`
	SizeBytes        int64     `json:"sizeBytes"`
	MimeType         string    `json:"mimeType"`
	RemoteCreatedAt  time.Time `json:"createdAt"`
	RemoteModifiedAt time.Time `json:"modifiedAt"`
	AddedAt          time.Time `json:"addedAt"`
}

// Recordings lists a class's synced recordings, newest first, paginated.
func (h *DriveHandler) Recordings(w http.ResponseWriter, r *http.Request) {
	teacherID, _ := auth.TeacherIDFromContext(r.Context())
	classID := chi.URLParam(r, "classID")

	class, err := h.store.Classes.GetByID(r.Context(), classID)
	if err != nil {
		httperrors.Internal(w, r, h.log, err, "failed to load class")
		return
	}
	if class == nil || class.TeacherID != teacherID {
		httperrors.Error(w, http.StatusNotFound, "class not found")
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	recordings, err := h.store.Recordings.ListByClass(r.Context(), classID, limit, offset)
	if err != nil {
		httperrors.Internal(w, r, h.log, err, "failed to list recordings")
		return
	}
	total, err := h.store.Recordings.CountByClass(r.Context(), classID)
	if err != nil {
		httperrors.Internal(w, r, h.log, err, "failed to count recordings")
		return
	}

	items := make([]recordingResponse, 0, len(recordings))
	for _, rec := range recordings {
		items = append(items, recordingResponse{
			ID:               rec.ID,
			DriveFileID:      rec.DriveFileID,
			Title:            rec.Title,
			ViewURL:          rec.ViewURL,
			DownloadURL:      rec.DownloadURL,
			ThumbnailURL:     rec.ThumbnailURL,
			SizeBytes:        rec.SizeBytes,
			MimeType:         rec.MimeType,
			RemoteCreatedAt:  rec.RemoteCreatedAt,
			RemoteModifiedAt: rec.RemoteModifiedAt,
			AddedAt:          rec.AddedAt,
		})
	}

	pages := (total + limit - 1) / limit
	httperrors.JSON(w, http.StatusOK, map[string]interface{}{
		"recordings": items,
		"total":      total,
		"page":       page,
		"pages":      pages,
	})
}

// Disconnect tears down the teacher's Drive connection. Recordings stay.
func (h *DriveHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	teacherID, _ := auth.TeacherIDFromContext(r.Context())

	if err := h.syncer.Disconnect(r.Context(), teacherID); err != nil {
		httperrors.Internal(w, r, h.log, err, "failed to disconnect")
		return
	}

	httperrors.JSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
