package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"zimage/pkg/types"
)

// NewLora describes a LoRA file to register.
type NewLora struct {
	Filename    string
	DisplayName string
	TriggerWord string
	Hash        string
}

// AddLora registers a file, or refreshes the metadata of an existing row with
// the same filename. It returns the row id.
func (s *Store) AddLora(ctx context.Context, l NewLora) (int64, error) {
	if l.Filename == "" {
		return 0, errors.New("store: lora filename is required")
	}
	display := l.DisplayName
	if display == "" {
		display = l.Filename
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lora_files (filename, display_name, trigger_word, hash) VALUES (?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			display_name = COALESCE(?, display_name),
			trigger_word = COALESCE(?, trigger_word),
			hash = COALESCE(?, hash)`,
		l.Filename, display, nullString(l.TriggerWord), nullString(l.Hash),
		nullString(l.DisplayName), nullString(l.TriggerWord), nullString(l.Hash))
	if err != nil {
		return 0, fmt.Errorf("upsert lora: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM lora_files WHERE filename = ?`, l.Filename).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

const loraColumns = `id, filename, COALESCE(display_name, filename), COALESCE(trigger_word, ''), COALESCE(hash, ''), created_at`

func scanLora(sc interface{ Scan(...any) error }) (types.Lora, error) {
	var l types.Lora
	err := sc.Scan(&l.ID, &l.Filename, &l.DisplayName, &l.TriggerWord, &l.Hash, &l.CreatedAt)
	return l, err
}

// Loras lists registered files by display name.
func (s *Store) Loras(ctx context.Context) ([]types.Lora, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loraColumns+` FROM lora_files ORDER BY display_name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []types.Lora{}
	for rows.Next() {
		l, err := scanLora(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Lora returns one registered file by id.
func (s *Store) Lora(ctx context.Context, id int64) (types.Lora, error) {
	return s.oneLora(ctx, `SELECT `+loraColumns+` FROM lora_files WHERE id = ?`, id)
}

// LoraByFilename returns one registered file by its base name.
func (s *Store) LoraByFilename(ctx context.Context, filename string) (types.Lora, error) {
	return s.oneLora(ctx, `SELECT `+loraColumns+` FROM lora_files WHERE filename = ?`, filename)
}

func (s *Store) oneLora(ctx context.Context, q string, arg any) (types.Lora, error) {
	l, err := scanLora(s.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	return l, err
}

// DeleteLora removes the row. Links from past generations go with it.
func (s *Store) DeleteLora(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lora_files WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
