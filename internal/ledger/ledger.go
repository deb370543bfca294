// Package ledger provides an append-only history of discovery events.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventAccessoryRegistered EventType = "accessory_registered"
	EventAccessoryUpdated    EventType = "accessory_updated"
	EventAccessoryRetired    EventType = "accessory_retired"
	EventDiscoveryCompleted  EventType = "discovery_completed"
	EventDiscoveryFailed     EventType = "discovery_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID          int64          `json:"id"`
	EventType   EventType      `json:"eventType"`
	Timestamp   time.Time      `json:"timestamp"`
	CycleID     string         `json:"cycleId,omitempty"`
	AccessoryID string         `json:"accessoryId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, cycleID, accessoryID string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(`
		INSERT INTO event_ledger (event_type, timestamp, cycle_id, accessory_id, payload)
		VALUES (?, ?, ?, ?, ?)
	`, string(eventType), l.now().UTC().Unix(), nullable(cycleID), nullable(accessoryID), string(payloadJSON))

	return err
}

// Record appends an event, logging failures instead of returning them.
func (l *Ledger) Record(eventType EventType, cycleID, accessoryID string, payload map[string]any) {
	if err := l.Append(eventType, cycleID, accessoryID, payload); err != nil {
		log.Warn().Err(err).
			Str("event", string(eventType)).
			Str("accessory", accessoryID).
			Msg("Failed to append ledger entry")
	}
}

// Recent returns the newest entries, newest first. An empty eventType
// matches every type.
func (l *Ledger) Recent(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, cycle_id, accessory_id, payload
		FROM event_ledger
		WHERE ? = '' OR event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// ForAccessory returns the history of one accessory, newest first.
func (l *Ledger) ForAccessory(accessoryID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, cycle_id, accessory_id, payload
		FROM event_ledger
		WHERE accessory_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, accessoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunCleanup deletes expired entries every interval until ctx is done.
func (l *Ledger) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Warn().Err(err).Msg("Ledger cleanup failed")
			} else if n > 0 {
				log.Debug().Int64("deleted", n).Msg("Ledger cleanup")
			}
		}
	}
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, cycleID, accessoryID sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &cycleID, &accessoryID, &payloadStr)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.CycleID = cycleID.String
		entry.AccessoryID = accessoryID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
