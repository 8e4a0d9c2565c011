package checkout

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"altarath/pos/internal/store"
	"altarath/pos/internal/txservice"
)

// Syncer drains the offline queue in the background. Entries are retried
// forever: each payload is idempotent via its reference number, so a
// resubmission after a half-seen success is harmless. There is no maximum
// attempt count; entries stay queued until synced or manually purged.
type Syncer struct {
	repo     store.Repository
	client   txservice.Client
	interval time.Duration
	log      *logrus.Entry
}

func NewSyncer(repo store.Repository, client txservice.Client, interval time.Duration, log *logrus.Entry) *Syncer {
	return &Syncer{repo: repo, client: client, interval: interval, log: log}
}

// Run loops until the context is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		synced, err := s.SyncOnce(ctx)
		if err != nil {
			s.log.WithError(err).Warn("sync pass failed")
			continue
		}
		if synced > 0 {
			s.log.WithField("synced", synced).Info("offline transactions synced")
		}
	}
}

// SyncOnce scans the pending entries and resubmits each one. A failure on
// one entry does not stop the pass.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	pending, err := s.repo.PendingTransactions(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "scan offline queue")
	}

	synced := 0
	for _, entry := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}

		log := s.log.WithFields(logrus.Fields{
			"reference": entry.ReferenceNumber,
			"attempts":  entry.Attempts,
		})

		_, err := s.client.SubmitCheckout(ctx, entry.Payload)
		if err != nil {
			if rerr := s.repo.RecordSyncAttempt(ctx, entry.ReferenceNumber, err.Error()); rerr != nil {
				log.WithError(rerr).Warn("failed to record sync attempt")
			}
			if txservice.IsRejected(err) {
				// the backend will never accept this payload; it stays
				// queued for manual review rather than being dropped
				log.WithError(err).Error("queued transaction rejected by backend")
			} else {
				log.WithError(err).Warn("sync attempt failed")
			}
			continue
		}

		if err := s.repo.MarkSynced(ctx, entry.ReferenceNumber, time.Now().UTC()); err != nil && !errors.Is(err, store.ErrAlreadySynced) {
			log.WithError(err).Warn("failed to mark entry synced")
			continue
		}
		synced++
	}
	return synced, nil
}
