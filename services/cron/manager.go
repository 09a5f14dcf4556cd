package cron

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sahilchouksey/askable/database"
	"github.com/sahilchouksey/askable/model"
	"github.com/sahilchouksey/askable/services/quota"
)

const (
	JobPruneQuota  = "prune_quota_counters"
	JobProbeStores = "probe_stores"

	pruneSchedule = "0 5 * * * *"
	probeSchedule = "0 */5 * * * *"
)

// CronManager runs the maintenance jobs of the API process.
type CronManager struct {
	cron   *cron.Cron
	db     *gorm.DB
	ledger *quota.Ledger
	stores map[string]database.Storage
	now    func() time.Time
}

// NewCronManager creates a manager. db may be nil, in which case job runs are
// only logged and not recorded in cron_job_logs.
func NewCronManager(db *gorm.DB, ledger *quota.Ledger, stores map[string]database.Storage) *CronManager {
	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:   c,
		db:     db,
		ledger: ledger,
		stores: stores,
		now:    time.Now,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	log.Info("starting cron jobs")

	if err := m.registerJobs(); err != nil {
		return err
	}
	m.cron.Start()

	log.Infow("cron jobs started", "jobs", len(m.cron.Entries()))
	return nil
}

// Stop waits for running jobs to finish.
func (m *CronManager) Stop() {
	log.Info("stopping cron jobs")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Info("cron jobs stopped")
}

func (m *CronManager) registerJobs() error {
	// Hourly, a few minutes past the window boundary: drop stale quota rows
	if m.ledger != nil {
		if _, err := m.cron.AddFunc(pruneSchedule, func() { m.PruneQuotaCounters() }); err != nil {
			return err
		}
	}

	// Every 5 minutes: ping every configured store
	if len(m.stores) > 0 {
		if _, err := m.cron.AddFunc(probeSchedule, func() { m.ProbeStores() }); err != nil {
			return err
		}
	}
	return nil
}

// run records a job run in cron_job_logs and returns the finisher for it.
// The finisher stores result as JSON next to the message.
func (m *CronManager) run(jobName string) func(message string, result any, err error) {
	started := m.now()
	log.Infow("cron job started", "job", jobName)

	var entry *model.CronJobLog
	if m.db != nil {
		entry = &model.CronJobLog{
			JobName:   jobName,
			Status:    model.CronRunRunning,
			StartedAt: started,
		}
		if err := m.db.Create(entry).Error; err != nil {
			log.Warnw("failed to record cron job start", "job", jobName, "error", err)
			entry = nil
		}
	}

	return func(message string, result any, err error) {
		finished := m.now()
		status := model.CronRunCompleted
		if err != nil {
			status = model.CronRunFailed
			log.Errorw("cron job failed", "job", jobName, "error", err)
		} else {
			log.Infow("cron job completed", "job", jobName, "message", message)
		}
		if entry == nil {
			return
		}

		updates := map[string]interface{}{
			"status":      status,
			"finished_at": finished,
			"duration_ms": finished.Sub(started).Milliseconds(),
			"message":     message,
		}
		if err != nil {
			updates["error_msg"] = err.Error()
		}
		if result != nil {
			if raw, jerr := json.Marshal(result); jerr == nil {
				updates["result"] = datatypes.JSON(raw)
			}
		}
		if uerr := m.db.Model(entry).Updates(updates).Error; uerr != nil {
			log.Warnw("failed to record cron job result", "job", jobName, "error", uerr)
		}
	}
}

func (m *CronManager) storeNames() []string {
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func jobContext(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
