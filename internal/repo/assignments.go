package repo

import (
	"context"
	"database/sql"

	"purple/internal/domain"
)

const assignmentColumns = `id,document_id,person_id,role,state,comment,time_spent_seconds,created_at,updated_at`

// activeStates is the NOT IN list defining an inactive assignment.
const inactiveStates = `('done','withdrawn','closed_for_hold')`

func (r Repo) InsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO assignments(id,document_id,person_id,role,state,comment,time_spent_seconds,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.DocumentID, nullableStringPtr(a.PersonID), string(a.Role), string(a.State), a.Comment, a.TimeSpentSeconds, a.CreatedAt, a.UpdatedAt)
	return err
}

func scanAssignment(scan func(dest ...any) error) (domain.Assignment, error) {
	var a domain.Assignment
	var personID sql.NullString
	err := scan(&a.ID, &a.DocumentID, &personID, &a.Role, &a.State, &a.Comment, &a.TimeSpentSeconds, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if personID.Valid {
		a.PersonID = &personID.String
	}
	return a, nil
}

func (r Repo) GetAssignment(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=?`, id)
	a, err := scanAssignment(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// ListAssignments returns every assignment on a document, oldest first.
func (r Repo) ListAssignments(ctx context.Context, tx *sql.Tx, documentID string) ([]domain.Assignment, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE document_id=? ORDER BY created_at ASC, id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE assignments SET person_id=?, state=?, comment=?, time_spent_seconds=?, updated_at=? WHERE id=?`,
		nullableStringPtr(a.PersonID), string(a.State), a.Comment, a.TimeSpentSeconds, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasActiveBlocked reports whether the document carries an active synthetic
// blocked assignment.
func (r Repo) HasActiveBlocked(ctx context.Context, tx *sql.Tx, documentID string) (bool, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM assignments WHERE document_id=? AND role='blocked' AND state NOT IN `+inactiveStates+` LIMIT 1`, documentID)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// LatestActiveBlocked returns the most recent active blocked assignment.
func (r Repo) LatestActiveBlocked(ctx context.Context, tx *sql.Tx, documentID string) (domain.Assignment, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE document_id=? AND role='blocked' AND state NOT IN `+inactiveStates+` ORDER BY created_at DESC, id DESC LIMIT 1`, documentID)
	a, err := scanAssignment(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// CloseActiveForHold forces every active non-blocked assignment on the
// document to closed_for_hold and returns how many it closed.
func (r Repo) CloseActiveForHold(ctx context.Context, tx *sql.Tx, documentID, updatedAt string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE assignments SET state='closed_for_hold', updated_at=? WHERE document_id=? AND role<>'blocked' AND state NOT IN `+inactiveStates, updatedAt, documentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
