package store

import (
	"context"
	"os"
)

// Stats holds index statistics.
type Stats struct {
	DBPath      string      `json:"db_path"`
	DBSizeBytes int64       `json:"db_size_bytes"`
	TotalChunks int         `json:"total_chunks"`
	Dim         int         `json:"embedding_dim,omitempty"`
	Users       []UserStats `json:"users"`
}

// UserStats holds per-user chunk counts.
type UserStats struct {
	UserID       string `json:"user_id"`
	Chunks       int    `json:"chunks"`
	Facts        int    `json:"facts"`
	LegacyChunks int    `json:"legacy_chunks,omitempty"`
}

// Stats returns index statistics, optionally for a single user.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath, userID string) (*Stats, error) {
	st := &Stats{DBPath: dbPath, Dim: s.Dim()}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	query := `
		SELECT user_id, COUNT(*), COUNT(DISTINCT fact_id), SUM(CASE WHEN fact_id IS NULL THEN 1 ELSE 0 END)
		FROM memory_chunks`
	var args []interface{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY user_id ORDER BY COUNT(*) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var u UserStats
		if err := rows.Scan(&u.UserID, &u.Chunks, &u.Facts, &u.LegacyChunks); err != nil {
			return st, err
		}
		st.TotalChunks += u.Chunks
		st.Users = append(st.Users, u)
	}
	return st, rows.Err()
}
