package repo

import (
	"context"
	"database/sql"

	"purple/internal/domain"
)

// Action holders.

func (r Repo) InsertActionHolder(ctx context.Context, tx *sql.Tx, h domain.ActionHolder) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO action_holders(id,document_id,person_id,body,since_when,completed,deadline,comment)
VALUES (?,?,?,?,?,?,?,?)`,
		h.ID, h.DocumentID, h.PersonID, h.Body, h.SinceWhen, nullableStringPtr(h.Completed), nullableStringPtr(h.Deadline), h.Comment)
	return err
}

func (r Repo) GetActionHolder(ctx context.Context, tx *sql.Tx, id string) (domain.ActionHolder, error) {
	var h domain.ActionHolder
	var completed, deadline sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,document_id,person_id,body,since_when,completed,deadline,comment FROM action_holders WHERE id=?`, id).
		Scan(&h.ID, &h.DocumentID, &h.PersonID, &h.Body, &h.SinceWhen, &completed, &deadline, &h.Comment)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	if completed.Valid {
		h.Completed = &completed.String
	}
	if deadline.Valid {
		h.Deadline = &deadline.String
	}
	return h, nil
}

func (r Repo) ListActionHolders(ctx context.Context, tx *sql.Tx, documentID string) ([]domain.ActionHolder, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,document_id,person_id,body,since_when,completed,deadline,comment FROM action_holders WHERE document_id=? ORDER BY since_when ASC, id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionHolder
	for rows.Next() {
		var h domain.ActionHolder
		var completed, deadline sql.NullString
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.PersonID, &h.Body, &h.SinceWhen, &completed, &deadline, &h.Comment); err != nil {
			return nil, err
		}
		if completed.Valid {
			h.Completed = &completed.String
		}
		if deadline.Valid {
			h.Deadline = &deadline.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// HasActiveActionHolder reports whether any holder on the document is still
// open (completed is null).
func (r Repo) HasActiveActionHolder(ctx context.Context, tx *sql.Tx, documentID string) (bool, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM action_holders WHERE document_id=? AND completed IS NULL LIMIT 1`, documentID)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) CompleteActionHolder(ctx context.Context, tx *sql.Tx, id, completedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE action_holders SET completed=? WHERE id=?`, completedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Related documents.

func (r Repo) InsertRelatedDocument(ctx context.Context, tx *sql.Tx, rd domain.RelatedDocument) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO related_documents(id,source_id,relationship,target_document_id,target_draft_name)
VALUES (?,?,?,?,?)`,
		rd.ID, rd.SourceID, string(rd.Relationship), nullableStringPtr(rd.TargetDocumentID), nullableStringPtr(rd.TargetDraftName))
	return err
}

func (r Repo) GetRelatedDocument(ctx context.Context, tx *sql.Tx, id string) (domain.RelatedDocument, error) {
	var rd domain.RelatedDocument
	var targetDoc, targetDraft sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,source_id,relationship,target_document_id,target_draft_name FROM related_documents WHERE id=?`, id).
		Scan(&rd.ID, &rd.SourceID, &rd.Relationship, &targetDoc, &targetDraft)
	if err == sql.ErrNoRows {
		return rd, ErrNotFound
	}
	if err != nil {
		return rd, err
	}
	if targetDoc.Valid {
		rd.TargetDocumentID = &targetDoc.String
	}
	if targetDraft.Valid {
		rd.TargetDraftName = &targetDraft.String
	}
	return rd, nil
}

// ListRelatedBySource returns the one-hop outgoing references of a document,
// optionally filtered by relationship kind.
func (r Repo) ListRelatedBySource(ctx context.Context, tx *sql.Tx, sourceID string, relationship domain.Relationship) ([]domain.RelatedDocument, error) {
	query := `SELECT id,source_id,relationship,target_document_id,target_draft_name FROM related_documents WHERE source_id=?`
	args := []any{sourceID}
	if relationship != "" {
		query += ` AND relationship=?`
		args = append(args, string(relationship))
	}
	rows, err := r.q(tx).QueryContext(ctx, query+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RelatedDocument
	for rows.Next() {
		var rd domain.RelatedDocument
		var targetDoc, targetDraft sql.NullString
		if err := rows.Scan(&rd.ID, &rd.SourceID, &rd.Relationship, &targetDoc, &targetDraft); err != nil {
			return nil, err
		}
		if targetDoc.Valid {
			rd.TargetDocumentID = &targetDoc.String
		}
		if targetDraft.Valid {
			rd.TargetDraftName = &targetDraft.String
		}
		res = append(res, rd)
	}
	return res, rows.Err()
}

func (r Repo) DeleteRelatedDocument(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM related_documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Labels.

func (r Repo) EnsureLabel(ctx context.Context, tx *sql.Tx, l domain.Label) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO labels(slug,is_exception,is_complexity,color,used) VALUES (?,?,?,?,?)
ON CONFLICT(slug) DO NOTHING`, l.Slug, l.IsException, l.IsComplexity, l.Color, l.Used)
	return err
}

func (r Repo) LabelExists(ctx context.Context, tx *sql.Tx, slug string) (bool, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM labels WHERE slug=? LIMIT 1`, slug)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) AddDocumentLabel(ctx context.Context, tx *sql.Tx, documentID, slug string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO document_labels(document_id,label_slug) VALUES (?,?)
ON CONFLICT(document_id,label_slug) DO NOTHING`, documentID, slug)
	return err
}

func (r Repo) RemoveDocumentLabel(ctx context.Context, tx *sql.Tx, documentID, slug string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM document_labels WHERE document_id=? AND label_slug=?`, documentID, slug)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListDocumentLabels(ctx context.Context, tx *sql.Tx, documentID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT label_slug FROM document_labels WHERE document_id=? ORDER BY label_slug ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slugs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		slugs = append(slugs, s)
	}
	return slugs, rows.Err()
}

// HasAnyLabel reports whether the document carries at least one of the slugs.
func (r Repo) HasAnyLabel(ctx context.Context, tx *sql.Tx, documentID string, slugs []string) (bool, error) {
	if len(slugs) == 0 {
		return false, nil
	}
	query := `SELECT 1 FROM document_labels WHERE document_id=? AND label_slug IN (`
	args := []any{documentID}
	for i, s := range slugs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, s)
	}
	query += `) LIMIT 1`
	row := r.q(tx).QueryRowContext(ctx, query, args...)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Final approvals.

func (r Repo) InsertFinalApproval(ctx context.Context, tx *sql.Tx, fa domain.FinalApproval) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO final_approvals(id,document_id,body,approver_id,overriding_approver_id,requested,approved)
VALUES (?,?,?,?,?,?,?)`,
		fa.ID, fa.DocumentID, fa.Body, nullableStringPtr(fa.ApproverID), nullableStringPtr(fa.OverridingApproverID), fa.Requested, nullableStringPtr(fa.Approved))
	return err
}

// HasPendingFinalApproval reports whether any approval request on the
// document is still unapproved.
func (r Repo) HasPendingFinalApproval(ctx context.Context, tx *sql.Tx, documentID string) (bool, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM final_approvals WHERE document_id=? AND approved IS NULL LIMIT 1`, documentID)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) GetFinalApproval(ctx context.Context, tx *sql.Tx, id string) (domain.FinalApproval, error) {
	var fa domain.FinalApproval
	var approver, overriding, approved sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,document_id,body,approver_id,overriding_approver_id,requested,approved FROM final_approvals WHERE id=?`, id).
		Scan(&fa.ID, &fa.DocumentID, &fa.Body, &approver, &overriding, &fa.Requested, &approved)
	if err == sql.ErrNoRows {
		return fa, ErrNotFound
	}
	if err != nil {
		return fa, err
	}
	if approver.Valid {
		fa.ApproverID = &approver.String
	}
	if overriding.Valid {
		fa.OverridingApproverID = &overriding.String
	}
	if approved.Valid {
		fa.Approved = &approved.String
	}
	return fa, nil
}

func (r Repo) ApproveFinalApproval(ctx context.Context, tx *sql.Tx, id, approverID, approvedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE final_approvals SET approver_id=?, approved=? WHERE id=? AND approved IS NULL`, approverID, approvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Cluster membership.

func (r Repo) InsertClusterMember(ctx context.Context, tx *sql.Tx, m domain.ClusterMember) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO cluster_members(cluster_number,draft_name,order_in_cluster) VALUES (?,?,?)`,
		m.ClusterNumber, m.DraftName, m.OrderInCluster)
	return err
}

func (r Repo) DeleteClusterMember(ctx context.Context, tx *sql.Tx, clusterNumber int, draftName string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM cluster_members WHERE cluster_number=? AND draft_name=?`, clusterNumber, draftName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListClusterMembers(ctx context.Context, tx *sql.Tx, clusterNumber int) ([]domain.ClusterMember, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT cluster_number,draft_name,order_in_cluster FROM cluster_members WHERE cluster_number=? ORDER BY order_in_cluster ASC`, clusterNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ClusterMember
	for rows.Next() {
		var m domain.ClusterMember
		if err := rows.Scan(&m.ClusterNumber, &m.DraftName, &m.OrderInCluster); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
