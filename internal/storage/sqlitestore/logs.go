package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/falak/mailrelay/internal/storage"
)

// AddLog inserts a log entry
func (s *Store) AddLog(ctx context.Context, l *storage.EmailLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_logs (id, timestamp, recipient, subject, sender, status, provider, api_key_id, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, toNanos(l.Timestamp), l.Recipient, l.Subject, l.Sender,
		string(l.Status), l.Provider, nullString(l.APIKeyID), nullString(l.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

// ListLogs returns logs newest first
func (s *Store) ListLogs(ctx context.Context, filter storage.LogFilter) ([]*storage.EmailLog, error) {
	where, args := logWhere(filter)
	query := `
		SELECT id, timestamp, recipient, subject, sender, status, provider,
		       COALESCE(api_key_id, ''), COALESCE(error_message, '')
		FROM email_logs` + where + `
		ORDER BY timestamp DESC, id DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	logs := []*storage.EmailLog{}
	for rows.Next() {
		var (
			l      storage.EmailLog
			ts     int64
			status string
		)
		if err := rows.Scan(&l.ID, &ts, &l.Recipient, &l.Subject, &l.Sender, &status, &l.Provider, &l.APIKeyID, &l.ErrorMessage); err != nil {
			return nil, err
		}
		l.Timestamp = fromNanos(ts)
		l.Status = storage.LogStatus(status)
		logs = append(logs, &l)
	}

	return logs, rows.Err()
}

// CountLogs counts logs matching the filter, ignoring Limit and Offset
func (s *Store) CountLogs(ctx context.Context, filter storage.LogFilter) (int, error) {
	where, args := logWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM email_logs"+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return total, nil
}

// DeleteLog removes a log entry
func (s *Store) DeleteLog(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM email_logs WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteLogsBefore removes logs with a timestamp before cutoff
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM email_logs WHERE timestamp < ?", toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete logs: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func logWhere(filter storage.LogFilter) (string, []any) {
	where := " WHERE 1=1"
	args := []any{}

	if !filter.Since.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, toNanos(filter.Since))
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	return where, args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
