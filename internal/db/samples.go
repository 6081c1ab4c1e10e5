package db

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/banshee-data/sensorview/internal/message"
)

// StoredSample is an accepted sample as persisted, always in Celsius.
type StoredSample struct {
	ID           int64     `json:"id"`
	MessageID    uint64    `json:"message_id"`
	Label        string    `json:"label"`
	TemperatureC float64   `json:"temperature_c"`
	AccelX       float64   `json:"accel_x"`
	AccelY       float64   `json:"accel_y"`
	AccelZ       float64   `json:"accel_z"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// RecordSample stores an accepted sample. The caller passes the device's
// Celsius reading.
func (db *DB) RecordSample(ctx context.Context, s message.Sample) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO samples (message_id, label, temperature_c, accel_x, accel_y, accel_z, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(s.MessageID), s.Timestamp, s.Temperature, s.AccelX, s.AccelY, s.AccelZ,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// RecentSamples returns up to limit of the newest samples, oldest first.
func (db *DB) RecentSamples(ctx context.Context, limit int) ([]StoredSample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT sample_id, message_id, label, temperature_c, accel_x, accel_y, accel_z, recorded_at
		 FROM samples ORDER BY sample_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredSample
	for rows.Next() {
		var (
			s          StoredSample
			messageID  int64
			recordedAt int64
		)
		if err := rows.Scan(&s.ID, &messageID, &s.Label, &s.TemperatureC, &s.AccelX, &s.AccelY, &s.AccelZ, &recordedAt); err != nil {
			return nil, err
		}
		s.MessageID = uint64(messageID)
		s.RecordedAt = time.Unix(0, recordedAt).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// SampleCount returns the number of stored samples.
func (db *DB) SampleCount(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&n)
	return n, err
}
