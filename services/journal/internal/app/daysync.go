package app

import (
	"context"

	"journalease/pkg/domain"
)

// DaySyncResult is the refreshed state of a day after a toggle.
type DaySyncResult struct {
	Date    string
	Updated int64
	Entries []domain.Entry
}

// SetDaySync enables or disables mirroring for every entry of the user on
// date. Enabling marks the entries pending before returning and dispatches
// each one concurrently; disabling never dispatches.
func (a *App) SetDaySync(ctx context.Context, userID int64, date string, enabled *bool) (DaySyncResult, error) {
	if enabled == nil {
		return DaySyncResult{}, ErrMissingParameter
	}
	d, err := parseDate(date)
	if err != nil {
		return DaySyncResult{}, err
	}
	n, err := a.store.SetDaySync(ctx, userID, d, *enabled, a.now())
	if err != nil {
		return DaySyncResult{}, storageErr("set day sync", err)
	}
	entries, err := a.store.ListEntriesByDate(ctx, userID, d)
	if err != nil {
		return DaySyncResult{}, storageErr("list day entries", err)
	}
	if *enabled {
		for _, e := range entries {
			if e.DriveSyncEnabled {
				a.dispatcher.Dispatch(userID, e)
			}
		}
	}
	a.logger.Info("day sync toggled", "user_id", userID, "date", d, "enabled", *enabled, "updated", n)
	return DaySyncResult{Date: d, Updated: n, Entries: entries}, nil
}
