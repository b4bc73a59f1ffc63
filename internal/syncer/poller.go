package syncer

import (
	"context"

	"github.com/sirupsen/logrus"
)

// PollOutcome records one teacher's result within a poll run.
type PollOutcome struct {
	TeacherID string
	Result    Result
	Skipped   bool
	Err       error
}

// PollReport aggregates one fallback poll run.
type PollReport struct {
	Processed int
	Synced    int
	Skipped   int
	Failed    int
	Outcomes  []PollOutcome
}

// PollAll reconciles every active teacher with a configured folder,
// independent of webhook health. Teachers are processed sequentially to stay
// inside provider rate limits; one teacher's failure never stops the batch.
func (s *Syncer) PollAll(ctx context.Context) PollReport {
	report := PollReport{}

	tokens, err := s.store.Tokens.ListActiveWithFolder(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to list records for fallback sync")
		return report
	}

	for i := range tokens {
		tok := &tokens[i]
		outcome := PollOutcome{TeacherID: tok.TeacherID}
		report.Processed++

		if tok.ClassID == nil {
			// Nothing to attach recordings to.
			outcome.Skipped = true
			report.Skipped++
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}

		res, err := s.SyncClass(ctx, tok, *tok.ClassID, TriggerPoll)
		if err != nil {
			outcome.Err = err
			report.Failed++
			s.log.WithField("teacher_id", tok.TeacherID).WithError(err).Error("fallback sync failed")
		} else {
			outcome.Result = res
			report.Synced++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	if report.Processed > 0 {
		s.log.WithFields(logrus.Fields{
			"processed": report.Processed,
			"synced":    report.Synced,
			"skipped":   report.Skipped,
			"failed":    report.Failed,
		}).Info("fallback sync run complete")
	}
	return report
}
