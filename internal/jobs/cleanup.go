package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/repository"
)

// CredentialChecker reports whether stored credentials exist for an account.
type CredentialChecker interface {
	Exists(accountID string) bool
}

// Core is the slice of the gateway core the sweep needs: the live-session
// check and the terminal event for records it removes.
type Core interface {
	Live(accountID string) bool
	NotifyOrphaned(userID, accountID string)
}

// CleanupJob periodically deletes orphaned session records: rows whose
// credential files are gone and which have no live session, so they can
// never be restored. A grace period keeps it from racing a create that has
// not written credentials yet.
type CleanupJob struct {
	sessions repository.WaSessionRepository
	creds    CredentialChecker
	core     Core
	interval time.Duration
	grace    time.Duration
	done     chan struct{}
}

func NewCleanupJob(
	sessions repository.WaSessionRepository,
	creds CredentialChecker,
	core Core,
	interval time.Duration,
	grace time.Duration,
) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		creds:    creds,
		core:     core,
		interval: interval,
		grace:    grace,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *CleanupJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := j.sessions.FindAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cleanup sweep failed to list sessions")
		return
	}

	removed := 0
	for _, record := range records {
		if !j.isOrphan(record) {
			continue
		}

		deleted, err := j.sessions.DeleteByUserAndAccount(ctx, record.UserID, record.AccountID)
		if err != nil {
			log.Error().Err(err).
				Str("accountId", record.AccountID).
				Msg("failed to delete orphaned session record")
			continue
		}
		if deleted {
			removed++
			j.core.NotifyOrphaned(record.UserID, record.AccountID)
			log.Info().
				Str("accountId", record.AccountID).
				Str("userId", record.UserID).
				Str("status", string(record.Status)).
				Msg("deleted orphaned session record")
		}
	}

	if removed > 0 {
		log.Info().Int("count", removed).Msg("cleanup sweep removed orphaned sessions")
	}
}

func (j *CleanupJob) isOrphan(record model.WaSession) bool {
	if j.core.Live(record.AccountID) {
		return false
	}
	if j.creds.Exists(record.AccountID) {
		return false
	}
	return time.Since(record.LastUpdated) > j.grace
}
