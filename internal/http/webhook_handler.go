package httpserver

import (
	"net/http"

	"github.com/sirupsen/logrus"

	httperrors "github.com/eduspace/classdrive/internal/http/errors"
	"github.com/eduspace/classdrive/internal/store"
	"github.com/eduspace/classdrive/internal/syncer"
)

// WebhookHandler receives Google Drive push notifications.
type WebhookHandler struct {
	store  *store.Store
	syncer *syncer.Syncer
	log    logrus.FieldLogger
}

func NewWebhookHandler(st *store.Store, sync *syncer.Syncer, log logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{store: st, syncer: sync, log: log}
}

// Receive handles one push notification. Google identifies the channel
// through X-Goog-* headers; the body carries nothing useful. Stale channels
// that outlived a reconfiguration get a 404, which tells Google to stop
// delivering on them.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-Id")
	resourceID := r.Header.Get("X-Goog-Resource-Id")
	resourceState := r.Header.Get("X-Goog-Resource-State")

	// Sent once when a channel is registered; not a change notification.
	if resourceState == "sync" {
		ok(w)
		return
	}

	if channelID == "" || resourceID == "" {
		httperrors.Error(w, http.StatusBadRequest, "missing channel headers")
		return
	}

	tok, err := h.store.Tokens.GetByChannel(r.Context(), channelID, resourceID)
	if err != nil {
		httperrors.Internal(w, r, h.log, err, "failed to resolve webhook channel")
		return
	}
	if tok == nil {
		httperrors.Error(w, http.StatusNotFound, "channel not found")
		return
	}

	if tok.ClassID == nil {
		// Folder notifications with nowhere to put recordings; ack so
		// Google does not retry.
		h.log.WithField("teacher_id", tok.TeacherID).Warn("webhook for folder without a class")
		ok(w)
		return
	}

	if _, err := h.syncer.SyncClass(r.Context(), tok, *tok.ClassID, syncer.TriggerWebhook); err != nil {
		httperrors.Internal(w, r, h.log, err, "webhook-triggered sync failed")
		return
	}

	h.log.WithFields(logrus.Fields{
		"teacher_id":     tok.TeacherID,
		"channel_id":     channelID,
		"resource_state": resourceState,
	}).Info("webhook notification processed")
	ok(w)
}

func ok(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
