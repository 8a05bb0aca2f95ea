package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatterbox-chat/chatterbox/internal/models"
)

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
// Postgres DSNs use the postgres:// URL scheme or key=value form; anything
// else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalReactions encodes a reactions map as JSON for storage. An empty map
// is stored as NULL.
func marshalReactions(reactions map[string][]string) (interface{}, error) {
	if len(reactions) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(reactions)
	if err != nil {
		return nil, fmt.Errorf("marshal reactions failed: %w", err)
	}
	return string(data), nil
}

// scanMessage scans a Message from sql.Rows.
func scanMessage(rows *sql.Rows) (models.Message, error) {
	var m models.Message
	var content, imageURL, reactionsJSON sql.NullString
	err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &content, &imageURL, &m.Type, &m.Timestamp, &m.Seen, &reactionsJSON)
	if err != nil {
		return m, fmt.Errorf("scan message failed: %w", err)
	}
	m.Content = content.String
	m.ImageURL = imageURL.String
	if reactionsJSON.Valid && reactionsJSON.String != "" {
		m.Reactions = make(map[string][]string)
		if err := json.Unmarshal([]byte(reactionsJSON.String), &m.Reactions); err != nil {
			slog.Error("scanMessage reactions unmarshal failed", "error", err, "messageID", m.ID)
			// Continue with empty reactions rather than failing the read
			m.Reactions = nil
		}
	}
	return m, nil
}
