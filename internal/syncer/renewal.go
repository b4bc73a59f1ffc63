package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eduspace/classdrive/internal/drive"
	"github.com/eduspace/classdrive/internal/metrics"
	"github.com/eduspace/classdrive/internal/store"
)

// RenewalOutcome records what happened to one teacher's channel during a
// renewal run.
type RenewalOutcome struct {
	TeacherID string
	ChannelID string
	Err       error
}

// RenewalReport aggregates one renewal run for observability and tests.
type RenewalReport struct {
	Selected int
	Renewed  int
	Failed   int
	Outcomes []RenewalOutcome
}

// RenewWebhooks rotates every active push channel that expires within the
// configured lead time: stop the old channel (best effort), register a new
// one on the same folder, persist the new channel triple. A failure on one
// record never aborts the batch; the fallback poller covers any gap a failed
// renewal leaves.
func (s *Syncer) RenewWebhooks(ctx context.Context) RenewalReport {
	report := RenewalReport{}

	cutoff := s.now().Add(s.opts.LeadTime)
	tokens, err := s.store.Tokens.ListExpiringWebhooks(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("failed to list expiring webhooks")
		return report
	}

	report.Selected = len(tokens)
	if len(tokens) > 0 {
		s.log.WithField("count", len(tokens)).Info("renewing webhook channels")
	}

	for i := range tokens {
		tok := &tokens[i]
		outcome := RenewalOutcome{TeacherID: tok.TeacherID}

		if channel, err := s.renewOne(ctx, tok); err != nil {
			outcome.Err = err
			report.Failed++
			metrics.ObserveWebhookRenewal("error")
			s.log.WithField("teacher_id", tok.TeacherID).WithError(err).Error("webhook renewal failed")
		} else {
			outcome.ChannelID = channel.ChannelID
			report.Renewed++
			metrics.ObserveWebhookRenewal("ok")
			s.log.WithFields(logrus.Fields{
				"teacher_id": tok.TeacherID,
				"channel_id": channel.ChannelID,
				"expires_at": channel.ExpiresAt,
			}).Info("webhook channel renewed")
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	if report.Selected > 0 {
		s.log.WithFields(logrus.Fields{
			"renewed": report.Renewed,
			"failed":  report.Failed,
		}).Info("webhook renewal run complete")
	}
	return report
}

func (s *Syncer) renewOne(ctx context.Context, tok *store.TeacherToken) (*drive.WatchChannel, error) {
	if tok.DriveFolderID == nil {
		// Channel without a folder should not happen; the configure flow
		// sets both together. Drop the stale channel fields.
		if err := s.store.Tokens.ClearWebhook(ctx, tok.TeacherID); err != nil {
			return nil, fmt.Errorf("clear orphaned channel: %w", err)
		}
		return nil, errors.New("channel registered without a folder; cleared")
	}

	creds, err := s.freshCredentials(ctx, tok)
	if err != nil {
		return nil, err
	}

	// An already-expired channel errors here; that is expected and not
	// actionable.
	s.stopWatchBestEffort(ctx, creds, tok)

	cctx, cancel := s.callCtx(ctx)
	channel, err := s.drive.CreateWatch(cctx, creds, *tok.DriveFolderID, s.opts.CallbackURL)
	cancel()
	if err != nil {
		// Old channel fields stay in place; the poller bridges the gap
		// until the next renewal attempt.
		return nil, fmt.Errorf("register replacement channel: %w", err)
	}

	if err := s.store.Tokens.UpdateWebhook(ctx, tok.TeacherID, channel.ChannelID, channel.ResourceID, channel.ExpiresAt); err != nil {
		return nil, fmt.Errorf("persist replacement channel: %w", err)
	}
	return channel, nil
}
