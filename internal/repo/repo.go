package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"purple/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier lets every method run either on the bare connection or inside a
// caller-owned transaction. Passing a nil tx selects the connection.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO documents(id,draft_name,rfc_number,disposition,external_deadline,internal_goal,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, nullableStringPtr(d.DraftName), nullableIntPtr(d.RfcNumber), string(d.Disposition),
		nullableStringPtr(d.ExternalDeadline), nullableStringPtr(d.InternalGoal), d.CreatedAt, d.UpdatedAt)
	return err
}

const documentColumns = `id,draft_name,rfc_number,disposition,external_deadline,internal_goal,created_at,updated_at`

func scanDocument(row *sql.Row) (domain.Document, error) {
	var d domain.Document
	var draftName, externalDeadline, internalGoal sql.NullString
	var rfcNumber sql.NullInt64
	err := row.Scan(&d.ID, &draftName, &rfcNumber, &d.Disposition, &externalDeadline, &internalGoal, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if draftName.Valid {
		d.DraftName = &draftName.String
	}
	if rfcNumber.Valid {
		n := int(rfcNumber.Int64)
		d.RfcNumber = &n
	}
	if externalDeadline.Valid {
		d.ExternalDeadline = &externalDeadline.String
	}
	if internalGoal.Valid {
		d.InternalGoal = &internalGoal.String
	}
	return d, nil
}

func (r Repo) GetDocument(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	return scanDocument(r.q(tx).QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
}

// GetDocumentByDraftName resolves a draft name to its in-queue document.
func (r Repo) GetDocumentByDraftName(ctx context.Context, tx *sql.Tx, draftName string) (domain.Document, error) {
	return scanDocument(r.q(tx).QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE draft_name=?`, draftName))
}

func (r Repo) UpdateDocumentDisposition(ctx context.Context, tx *sql.Tx, id string, disposition domain.Disposition, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE documents SET disposition=?, updated_at=? WHERE id=?`, string(disposition), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type DocumentFilters struct {
	Disposition domain.Disposition
	Limit       int
}

func (r Repo) ListDocuments(ctx context.Context, f DocumentFilters) ([]domain.Document, error) {
	var clauses []string
	var args []any
	if f.Disposition != "" {
		clauses = append(clauses, "disposition=?")
		args = append(args, string(f.Disposition))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + documentColumns + ` FROM documents ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		var draftName, externalDeadline, internalGoal sql.NullString
		var rfcNumber sql.NullInt64
		if err := rows.Scan(&d.ID, &draftName, &rfcNumber, &d.Disposition, &externalDeadline, &internalGoal, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if draftName.Valid {
			d.DraftName = &draftName.String
		}
		if rfcNumber.Valid {
			n := int(rfcNumber.Int64)
			d.RfcNumber = &n
		}
		if externalDeadline.Valid {
			d.ExternalDeadline = &externalDeadline.String
		}
		if internalGoal.Valid {
			d.InternalGoal = &internalGoal.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListDocumentIDsByDisposition feeds the periodic sweep.
func (r Repo) ListDocumentIDsByDisposition(ctx context.Context, disposition domain.Disposition) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM documents WHERE disposition=? ORDER BY created_at ASC, id ASC`, string(disposition))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
