package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveAgent inserts or replaces the snapshot for a.ID.
func (db *DB) SaveAgent(a AgentRow) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	_, err := db.conn.Exec(
		`INSERT INTO agents (id, provider, terminal_name, transcript_path, project_dir, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			terminal_name = excluded.terminal_name,
			transcript_path = excluded.transcript_path,
			project_dir = excluded.project_dir,
			updated_at = excluded.updated_at`,
		a.ID, a.Provider, a.TerminalName, a.TranscriptPath, a.ProjectDir,
		a.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving agent %d: %w", a.ID, err)
	}
	return nil
}

// ReplaceAgents makes the agents table hold exactly rows.
func (db *DB) ReplaceAgents(rows []AgentRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}
	now := time.Now().UTC().Format(timeLayout)
	for _, a := range rows {
		if _, err := tx.Exec(
			`INSERT INTO agents (id, provider, terminal_name, transcript_path, project_dir, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, a.Provider, a.TerminalName, a.TranscriptPath, a.ProjectDir, now,
		); err != nil {
			return fmt.Errorf("saving agent %d: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// GetAgent returns the snapshot with the given id, or ErrNotFound.
func (db *DB) GetAgent(id int) (AgentRow, error) {
	row := db.conn.QueryRow(
		`SELECT id, provider, terminal_name, transcript_path, project_dir, updated_at
		FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentRow{}, fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	return a, err
}

// DeleteAgent removes a snapshot. Deleting an unknown id returns ErrNotFound.
func (db *DB) DeleteAgent(id int) error {
	res, err := db.conn.Exec("DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListAgents returns all snapshots ordered by id.
func (db *DB) ListAgents() ([]AgentRow, error) {
	rows, err := db.conn.Query(
		`SELECT id, provider, terminal_name, transcript_path, project_dir, updated_at
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var agents []AgentRow
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (AgentRow, error) {
	var a AgentRow
	var updated string
	if err := row.Scan(&a.ID, &a.Provider, &a.TerminalName, &a.TranscriptPath, &a.ProjectDir, &updated); err != nil {
		return AgentRow{}, err
	}
	a.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return a, nil
}
