package store

import (
	"database/sql"
	"strings"
	"time"
)

// InsertEvent appends one event to the history.
func (db *DB) InsertEvent(e EventRow) (int64, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	res, err := db.conn.Exec(
		`INSERT INTO events (agent_id, type, tool_id, parent_tool_id, status, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.AgentID, e.Type, nullable(e.ToolID), nullable(e.ParentToolID), nullable(e.Status),
		e.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentEvents returns the newest events matching f, oldest first.
func (db *DB) RecentEvents(f EventFilter) ([]EventRow, error) {
	var where []string
	var args []any
	if f.AgentID > 0 {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	query := "SELECT id, agent_id, type, tool_id, parent_tool_id, status, at FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var toolID, parentID, status sql.NullString
		var at string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Type, &toolID, &parentID, &status, &at); err != nil {
			return nil, err
		}
		e.ToolID = toolID.String
		e.ParentToolID = parentID.String
		e.Status = status.String
		e.At, _ = time.Parse(timeLayout, at)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// PruneEvents deletes events older than cutoff and reports how many went.
func (db *DB) PruneEvents(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM events WHERE at < ?", cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
