package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"purple/internal/domain"
)

// LatestEvents returns the newest events, optionally filtered. The event log
// doubles as assignment state history: "when did role X reach state Y" is a
// query over assignment.updated events.
func (r Repo) LatestEvents(ctx context.Context, limit int, documentID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if documentID != "" {
		clauses = append(clauses, "document_id=?")
		args = append(args, documentID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,document_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var docID, entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &docID, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if docID.Valid {
			e.DocumentID = docID.String
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
