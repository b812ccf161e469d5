package engine

import (
	"context"
	"database/sql"

	"purple/internal/domain"
)

// The gate evaluator: five ordered stage-gates keyed to the roles currently
// active or next eligible on a document. The first gate whose role set is
// active-or-pending decides the outcome; later gates are never consulted.
// Evaluation is read-only and treats absent collections as empty.

// IsBlocked reports whether the document is currently blocked.
func (e *Engine) IsBlocked(ctx context.Context, documentID string) (bool, error) {
	return e.isBlocked(ctx, nil, documentID)
}

func (e *Engine) isBlocked(ctx context.Context, tx *sql.Tx, documentID string) (bool, error) {
	assignments, err := e.Repo.ListAssignments(ctx, tx, documentID)
	if err != nil {
		return false, err
	}
	pending := e.Graph.Pending(assignments)
	activeRoles := make(map[domain.Role]bool)
	for _, a := range assignments {
		if a.Active() {
			activeRoles[a.Role] = true
		}
	}
	matched := func(roles ...domain.Role) bool {
		for _, r := range roles {
			if activeRoles[r] || pending[r] {
				return true
			}
		}
		return false
	}

	// Gate 1: blocks formatting / reference checks.
	if matched(domain.RoleRefChecker, domain.RoleFormatting) {
		if held, err := e.Repo.HasActiveActionHolder(ctx, tx, documentID); err != nil || held {
			return held, err
		}
		if labeled, err := e.Repo.HasAnyLabel(ctx, tx, documentID, []string{domain.LabelStreamHold, domain.LabelExtRefHold}); err != nil || labeled {
			return labeled, err
		}
		return e.hasRelated(ctx, tx, documentID, domain.RelNotReceived)
	}

	// Gate 2: blocks first edit.
	if matched(domain.RoleFirstEditor) {
		if held, err := e.Repo.HasActiveActionHolder(ctx, tx, documentID); err != nil || held {
			return held, err
		}
		return e.Repo.HasAnyLabel(ctx, tx, documentID, []string{domain.LabelStreamHold})
	}

	// Gate 3: blocks second edit.
	if matched(domain.RoleSecondEditor) {
		if held, err := e.Repo.HasActiveActionHolder(ctx, tx, documentID); err != nil || held {
			return held, err
		}
		if labeled, err := e.Repo.HasAnyLabel(ctx, tx, documentID, []string{domain.LabelStreamHold, domain.LabelIANAHold}); err != nil || labeled {
			return labeled, err
		}
		return e.refTargetIncomplete(ctx, tx, documentID, domain.RoleFirstEditor)
	}

	// Gate 4: blocks final review.
	if matched(domain.RoleFinalReviewEditor) {
		if waiting, err := e.refTargetIncomplete(ctx, tx, documentID, domain.RoleSecondEditor); err != nil || waiting {
			return waiting, err
		}
		if labeled, err := e.Repo.HasAnyLabel(ctx, tx, documentID, []string{domain.LabelStreamHold}); err != nil || labeled {
			return labeled, err
		}
		return e.Repo.HasActiveActionHolder(ctx, tx, documentID)
	}

	// Gate 5: blocks publishing.
	if matched(domain.RolePublisher) {
		if labeled, err := e.Repo.HasAnyLabel(ctx, tx, documentID, []string{domain.LabelStreamHold, domain.LabelIANAHold, domain.LabelToolsIssue}); err != nil || labeled {
			return labeled, err
		}
		if waiting, err := e.refTargetIncomplete(ctx, tx, documentID, domain.RolePublisher); err != nil || waiting {
			return waiting, err
		}
		return e.Repo.HasPendingFinalApproval(ctx, tx, documentID)
	}

	return false, nil
}

func (e *Engine) hasRelated(ctx context.Context, tx *sql.Tx, documentID string, rel domain.Relationship) (bool, error) {
	refs, err := e.Repo.ListRelatedBySource(ctx, tx, documentID, rel)
	if err != nil {
		return false, err
	}
	return len(refs) > 0, nil
}

// refTargetIncomplete reports whether any refqueue reference of the document
// points at an in-queue target that has not completed the given role. Only
// one hop is inspected, so reference cycles across documents terminate.
// External-draft targets are skipped; a reference not yet in the queue gates
// via the not-received relationship instead.
func (e *Engine) refTargetIncomplete(ctx context.Context, tx *sql.Tx, documentID string, role domain.Role) (bool, error) {
	refs, err := e.Repo.ListRelatedBySource(ctx, tx, documentID, domain.RelRefQueue)
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		if ref.TargetDocumentID == nil {
			continue
		}
		targetAssignments, err := e.Repo.ListAssignments(ctx, tx, *ref.TargetDocumentID)
		if err != nil {
			return false, err
		}
		if !e.Graph.Completed(targetAssignments)[role] {
			return true, nil
		}
	}
	return false, nil
}

// IncompleteActivities returns the roles not yet completed on a document,
// including work in progress and work still waiting to begin.
func (e *Engine) IncompleteActivities(ctx context.Context, documentID string) ([]domain.Role, error) {
	assignments, err := e.Repo.ListAssignments(ctx, nil, documentID)
	if err != nil {
		return nil, err
	}
	return sortedRoles(e.Graph.Incomplete(assignments)), nil
}

// PendingActivities returns the roles whose prerequisites are all done but
// that have no non-withdrawn assignment yet.
func (e *Engine) PendingActivities(ctx context.Context, documentID string) ([]domain.Role, error) {
	assignments, err := e.Repo.ListAssignments(ctx, nil, documentID)
	if err != nil {
		return nil, err
	}
	return sortedRoles(e.Graph.Pending(assignments)), nil
}
