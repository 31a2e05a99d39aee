package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"zimage/pkg/types"
)

// Generation statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// AppliedLora links a generation to a registered LoRA.
type AppliedLora struct {
	LoraID   int64
	Strength float64
}

// NewGeneration is a row to insert.
type NewGeneration struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	Width          int
	Height         int
	CFGScale       float64
	Seed           *int64
	Model          string
	Precision      string
	Status         string
	Filename       string
	ErrorMessage   string
	GenerationTime float64
	FileSizeKB     float64
	Loras          []AppliedLora
}

// AddGeneration inserts g and its LoRA links in one transaction.
func (s *Store) AddGeneration(ctx context.Context, g NewGeneration) (int64, error) {
	if g.Status == "" {
		g.Status = StatusSucceeded
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO generations (
			prompt, negative_prompt, steps, width, height, cfg_scale, seed, model,
			status, filename, error_message, generation_time, file_size_kb, precision
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Prompt, nullString(g.NegativePrompt), g.Steps, g.Width, g.Height, g.CFGScale, g.Seed, g.Model,
		g.Status, nullString(g.Filename), nullString(g.ErrorMessage), g.GenerationTime, g.FileSizeKB, g.Precision)
	if err != nil {
		return 0, fmt.Errorf("insert generation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for i, l := range g.Loras {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO generation_loras (generation_id, lora_file_id, strength, position) VALUES (?, ?, ?, ?)`,
			id, l.LoraID, l.Strength, i); err != nil {
			return 0, fmt.Errorf("insert generation lora: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

const generationColumns = `id, prompt, steps, width, height, seed, model, precision, status,
	COALESCE(filename, ''), COALESCE(error_message, ''), created_at,
	COALESCE(generation_time, 0), COALESCE(file_size_kb, 0)`

func scanGeneration(sc interface{ Scan(...any) error }) (types.HistoryItem, error) {
	var it types.HistoryItem
	var seed sql.NullInt64
	err := sc.Scan(&it.ID, &it.Prompt, &it.Steps, &it.Width, &it.Height, &seed, &it.Model, &it.Precision,
		&it.Status, &it.Filename, &it.ErrorMessage, &it.CreatedAt, &it.GenerationTime, &it.FileSizeKB)
	if seed.Valid {
		v := seed.Int64
		it.Seed = &v
	}
	it.Loras = []types.HistoryLora{}
	return it, err
}

// History returns succeeded generations newest first, plus the total count
// of succeeded rows.
func (s *Store) History(ctx context.Context, limit, offset int) ([]types.HistoryItem, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generations WHERE status = ?`, StatusSucceeded).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+generationColumns+` FROM generations
		WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, StatusSucceeded, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := []types.HistoryItem{}
	for rows.Next() {
		it, err := scanGeneration(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, it)
	}
	if err := rows.Close(); err != nil {
		return nil, 0, err
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := s.attachLoras(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Generation returns one row regardless of status.
func (s *Store) Generation(ctx context.Context, id int64) (types.HistoryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	it, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	items := []types.HistoryItem{it}
	if err := s.attachLoras(ctx, items); err != nil {
		return it, err
	}
	return items[0], nil
}

// DeleteGeneration removes a row and returns its image filename.
func (s *Store) DeleteGeneration(ctx context.Context, id int64) (string, error) {
	var filename sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT filename FROM generations WHERE id = ?`, id).Scan(&filename)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM generations WHERE id = ?`, id); err != nil {
		return "", err
	}
	return filename.String, nil
}

func (s *Store) attachLoras(ctx context.Context, items []types.HistoryItem) error {
	if len(items) == 0 {
		return nil
	}
	idx := make(map[int64]int, len(items))
	args := make([]any, 0, len(items))
	for i, it := range items {
		idx[it.ID] = i
		args = append(args, it.ID)
	}
	q := `SELECT gl.generation_id, l.id, l.filename, COALESCE(l.display_name, l.filename), gl.strength
		FROM generation_loras gl JOIN lora_files l ON l.id = gl.lora_file_id
		WHERE gl.generation_id IN (` + placeholders(len(args)) + `)
		ORDER BY gl.generation_id, gl.position`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var gid int64
		var l types.HistoryLora
		if err := rows.Scan(&gid, &l.ID, &l.Filename, &l.DisplayName, &l.Strength); err != nil {
			return err
		}
		i := idx[gid]
		items[i].Loras = append(items[i].Loras, l)
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
