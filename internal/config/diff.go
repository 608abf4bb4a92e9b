package config

import "strings"

// ChangedSections returns a compact list of top-level sections that differ
// between two configs, for reload logging. Values themselves are not
// logged; addresses and paths can be operator-sensitive.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
	}
	if differs(oldCfg.Storage.Driver, newCfg.Storage.Driver) ||
		differs(oldCfg.Storage.Path, newCfg.Storage.Path) ||
		differs(oldCfg.Storage.BusyTimeout, newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
	}
	if differs(oldCfg.Delivery.Timeout, newCfg.Delivery.Timeout) {
		changed = append(changed, "delivery")
	}
	if differs(oldCfg.Scheduler.ReconcileInterval, newCfg.Scheduler.ReconcileInterval) {
		changed = append(changed, "scheduler")
	}
	return changed
}

// differs reports whether the two values differ after trimming whitespace.
func differs(a, b string) bool {
	return strings.TrimSpace(a) != strings.TrimSpace(b)
}
