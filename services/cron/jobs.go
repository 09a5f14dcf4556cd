package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PruneQuotaCounters removes quota counters of windows that have already
// ended. Counters that expire on their own report zero.
func (m *CronManager) PruneQuotaCounters() (int64, error) {
	ctx, cancel := jobContext(5 * time.Minute)
	defer cancel()

	done := m.run(JobPruneQuota)
	removed, err := m.ledger.Prune(ctx)
	if err != nil {
		err = fmt.Errorf("failed to prune quota counters: %w", err)
		done("", nil, err)
		return 0, err
	}
	done(fmt.Sprintf("Removed %d expired quota counters", removed), map[string]int64{"removed": removed}, nil)
	return removed, nil
}

// ProbeStores pings every configured store and fails when any is down.
func (m *CronManager) ProbeStores() error {
	ctx, cancel := jobContext(30 * time.Second)
	defer cancel()

	done := m.run(JobProbeStores)
	var (
		errs    []error
		healthy []string
	)
	for _, name := range m.storeNames() {
		if err := m.stores[name].HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		healthy = append(healthy, name)
	}

	err := errors.Join(errs...)
	done(fmt.Sprintf("Healthy stores: %s", strings.Join(healthy, ", ")), map[string][]string{"healthy": healthy}, err)
	return err
}
