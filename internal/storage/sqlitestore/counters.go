package sqlitestore

import (
	"context"
	"fmt"

	"github.com/falak/mailrelay/internal/storage"
)

// LoadCounters returns all persisted quota counters
func (s *Store) LoadCounters(ctx context.Context) (map[string]*storage.QuotaCounter, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, hourly_count, daily_count, hour_start, day_start FROM quota_counters")
	if err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}
	defer rows.Close()

	counters := make(map[string]*storage.QuotaCounter)
	for rows.Next() {
		var (
			key                 string
			c                   storage.QuotaCounter
			hourStart, dayStart int64
		)
		if err := rows.Scan(&key, &c.HourlyCount, &c.DailyCount, &hourStart, &dayStart); err != nil {
			return nil, err
		}
		c.HourStart = fromNanos(hourStart)
		c.DayStart = fromNanos(dayStart)
		counters[key] = &c
	}

	return counters, rows.Err()
}

// SaveCounters upserts quota counters
func (s *Store) SaveCounters(ctx context.Context, counters map[string]*storage.QuotaCounter) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for key, c := range counters {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quota_counters (key, hourly_count, daily_count, hour_start, day_start)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				hourly_count = excluded.hourly_count,
				daily_count = excluded.daily_count,
				hour_start = excluded.hour_start,
				day_start = excluded.day_start`,
			key, c.HourlyCount, c.DailyCount, toNanos(c.HourStart), toNanos(c.DayStart),
		)
		if err != nil {
			return fmt.Errorf("failed to save counter %s: %w", key, err)
		}
	}

	return tx.Commit()
}
