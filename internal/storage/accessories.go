// Package storage persists registered accessories in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/device"
	"github.com/dokzlo13/hubspaced/internal/host"
)

// AccessoryStore is a host.Registry backed by the accessories table.
// The logical device is stored as a JSON payload with version tracking.
type AccessoryStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

var _ host.Registry = (*AccessoryStore)(nil)

// NewAccessoryStore creates a store on an open database.
func NewAccessoryStore(db *sql.DB) *AccessoryStore {
	return &AccessoryStore{db: db, now: time.Now}
}

// Register inserts a new accessory.
func (s *AccessoryStore) Register(ctx context.Context, id, name string, dev device.LogicalDevice) (host.Accessory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(dev)
	if err != nil {
		return host.Accessory{}, fmt.Errorf("failed to marshal device: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accessories (id, display_name, payload, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`, id, name, string(payload), now.Unix(), now.Unix())
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return host.Accessory{}, fmt.Errorf("%s: %w", id, host.ErrAlreadyExists)
		}
		return host.Accessory{}, fmt.Errorf("failed to register accessory: %w", err)
	}

	log.Debug().Str("accessory", id).Str("name", name).Msg("Accessory stored")

	return host.Accessory{
		ID:          id,
		DisplayName: name,
		Device:      dev,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Update replaces the name and payload of an accessory, keeping its id and
// creation time.
func (s *AccessoryStore) Update(ctx context.Context, acc host.Accessory) (host.Accessory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(acc.Device)
	if err != nil {
		return host.Accessory{}, fmt.Errorf("failed to marshal device: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		UPDATE accessories SET
			display_name = ?,
			payload = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ?
	`, acc.DisplayName, string(payload), now.Unix(), acc.ID)
	if err != nil {
		return host.Accessory{}, fmt.Errorf("failed to update accessory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return host.Accessory{}, fmt.Errorf("%s: %w", acc.ID, host.ErrUnknownAccessory)
	}

	return s.get(ctx, acc.ID)
}

// Unregister deletes an accessory.
func (s *AccessoryStore) Unregister(ctx context.Context, acc host.Accessory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM accessories WHERE id = ?`, acc.ID)
	if err != nil {
		return fmt.Errorf("failed to unregister accessory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", acc.ID, host.ErrUnknownAccessory)
	}
	return nil
}

// ListCached returns every stored accessory ordered by id. Rows whose
// payload no longer decodes are skipped.
func (s *AccessoryStore) ListCached(ctx context.Context) ([]host.Accessory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, payload, version, created_at, updated_at
		FROM accessories
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accessories: %w", err)
	}
	defer rows.Close()

	var out []host.Accessory
	for rows.Next() {
		acc, err := scanAccessory(rows)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping unreadable accessory")
			continue
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *AccessoryStore) get(ctx context.Context, id string) (host.Accessory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, payload, version, created_at, updated_at
		FROM accessories
		WHERE id = ?
	`, id)
	acc, err := scanAccessory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return host.Accessory{}, fmt.Errorf("%s: %w", id, host.ErrUnknownAccessory)
	}
	return acc, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccessory(row scanner) (host.Accessory, error) {
	var (
		acc                  host.Accessory
		payload              string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&acc.ID, &acc.DisplayName, &payload, &acc.Version, &createdAt, &updatedAt); err != nil {
		return host.Accessory{}, err
	}
	if err := json.Unmarshal([]byte(payload), &acc.Device); err != nil {
		return host.Accessory{}, fmt.Errorf("accessory %s: failed to unmarshal payload: %w", acc.ID, err)
	}
	acc.CreatedAt = time.Unix(createdAt, 0).UTC()
	acc.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return acc, nil
}
