package syncer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// startupDelay gives the HTTP listener a moment to come up before the first
// renewal run registers callback channels.
const startupDelay = 5 * time.Second

// Run drives the two background jobs on their configured intervals until ctx
// is cancelled: webhook channel renewal (with an immediate run shortly after
// start) and the fallback poll. Blocks; callers run it in a goroutine.
func (s *Syncer) Run(ctx context.Context) {
	startup := time.NewTimer(startupDelay)
	defer startup.Stop()

	renewal := time.NewTicker(s.opts.WebhookRenewalInterval)
	defer renewal.Stop()

	poll := time.NewTicker(s.opts.FallbackInterval)
	defer poll.Stop()

	s.log.WithFields(logrus.Fields{
		"renewal_interval": s.opts.WebhookRenewalInterval.String(),
		"poll_interval":    s.opts.FallbackInterval.String(),
	}).Info("sync scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync scheduler stopped")
			return
		case <-startup.C:
			s.RenewWebhooks(ctx)
		case <-renewal.C:
			s.RenewWebhooks(ctx)
		case <-poll.C:
			s.PollAll(ctx)
		}
	}
}
