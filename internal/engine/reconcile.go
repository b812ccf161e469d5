package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"purple/internal/domain"
	"purple/internal/events"
	"purple/internal/repo"
)

// reconcileActor is the actor recorded on events the engine writes itself.
const reconcileActor = "reconciler"

// Reconcile compares the computed blocked verdict with the materialized
// blocked assignment and applies the minimal writes to make them agree.
// It returns true if it transitioned the marker, false for a no-op, and is
// idempotent: a second call with no intervening fact change returns false.
//
// The document lock is held for the full read-compute-write sequence so two
// racing triggers cannot both create a blocked assignment. Reconciliations
// of different documents run independently.
func (e *Engine) Reconcile(ctx context.Context, documentID string) (bool, error) {
	release, err := e.locks.acquire(ctx, documentID, e.lockTimeout())
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			e.Log.Warn("reconcile: lock timeout", zap.String("document", documentID))
		}
		return false, err
	}
	defer release()
	return e.reconcileLocked(ctx, documentID)
}

func (e *Engine) reconcileLocked(ctx context.Context, documentID string) (transitioned bool, err error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, &ReconciliationError{DocumentID: documentID, Transition: "begin", Err: err}
	}
	defer tx.Rollback()

	// Re-read under the lock: the verdict must reflect the latest committed
	// facts, not the snapshot that scheduled this pass.
	doc, err := e.Repo.GetDocument(ctx, tx, documentID)
	if err != nil {
		return false, e.reconcileFailed(documentID, "read", err)
	}
	blockedNow, err := e.isBlocked(ctx, tx, doc.ID)
	if err != nil {
		return false, e.reconcileFailed(documentID, "evaluate", err)
	}
	blockedBefore, err := e.Repo.HasActiveBlocked(ctx, tx, doc.ID)
	if err != nil {
		return false, e.reconcileFailed(documentID, "evaluate", err)
	}

	e.Log.Debug("reconcile",
		zap.String("document", doc.ID),
		zap.Bool("blocked_now", blockedNow),
		zap.Bool("blocked_before", blockedBefore))

	switch {
	case blockedNow && !blockedBefore:
		if err := e.createBlockedAssignment(ctx, tx, doc.ID); err != nil {
			return false, e.reconcileFailed(documentID, "block", err)
		}
		if err := tx.Commit(); err != nil {
			return false, e.reconcileFailed(documentID, "block", err)
		}
		e.Log.Info("document blocked", zap.String("document", doc.ID))
		return true, nil

	case !blockedNow && blockedBefore:
		if err := e.closeLatestBlockedAssignment(ctx, tx, doc.ID); err != nil {
			return false, e.reconcileFailed(documentID, "unblock", err)
		}
		if err := tx.Commit(); err != nil {
			return false, e.reconcileFailed(documentID, "unblock", err)
		}
		e.Log.Info("document unblocked", zap.String("document", doc.ID))
		return true, nil
	}
	return false, nil
}

func (e *Engine) reconcileFailed(documentID, transition string, err error) error {
	rerr := &ReconciliationError{DocumentID: documentID, Transition: transition, Err: err}
	e.Log.Error("reconcile failed", zap.String("document", documentID), zap.String("transition", transition), zap.Error(err))
	return rerr
}

// createBlockedAssignment forces every other active assignment to
// closed_for_hold and creates the synthetic blocked assignment. Siblings are
// not reactivated when the document later unblocks; reassignment is a human
// decision.
func (e *Engine) createBlockedAssignment(ctx context.Context, tx *sql.Tx, documentID string) error {
	now := e.now().UTC().Format(time.RFC3339)
	closed, err := e.Repo.CloseActiveForHold(ctx, tx, documentID, now)
	if err != nil {
		return fmt.Errorf("close active assignments: %w", err)
	}
	if closed > 0 {
		e.Log.Info("closed active assignments for hold",
			zap.String("document", documentID), zap.Int64("count", closed))
	}
	blocked := domain.Assignment{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Role:       domain.RoleBlocked,
		State:      domain.StateAssigned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertAssignment(ctx, tx, blocked); err != nil {
		return fmt.Errorf("insert blocked assignment: %w", err)
	}
	return e.Events.Append(ctx, tx, "document.blocked", documentID, "assignment", blocked.ID, reconcileActor,
		events.EventPayload{"closed_for_hold": closed})
}

// closeLatestBlockedAssignment marks the most recent active blocked
// assignment done.
func (e *Engine) closeLatestBlockedAssignment(ctx context.Context, tx *sql.Tx, documentID string) error {
	blocked, err := e.Repo.LatestActiveBlocked(ctx, tx, documentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find blocked assignment: %w", err)
	}
	blocked.State = domain.StateDone
	blocked.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAssignment(ctx, tx, blocked); err != nil {
		return fmt.Errorf("close blocked assignment: %w", err)
	}
	return e.Events.Append(ctx, tx, "document.unblocked", documentID, "assignment", blocked.ID, reconcileActor, nil)
}

// ReconcileAllInProgress sweeps every in-progress document, reconciling each
// independently. It is the catch-up path for missed or failed triggered
// runs; per-document failures are logged and left for the next pass.
func (e *Engine) ReconcileAllInProgress(ctx context.Context) error {
	ids, err := e.Repo.ListDocumentIDsByDisposition(ctx, domain.DispositionInProgress)
	if err != nil {
		return fmt.Errorf("list in-progress documents: %w", err)
	}
	for _, id := range ids {
		if _, err := e.Reconcile(ctx, id); err != nil {
			e.Log.Warn("sweep: reconcile failed", zap.String("document", id), zap.Error(err))
		}
	}
	return nil
}
