package dispatch_test

import (
	"context"
	"testing"

	"purple/internal/db"
	"purple/internal/dispatch"
	"purple/internal/domain"
)

func newTestDispatcher(t *testing.T) (*dispatch.Dispatcher, func(t *testing.T) *dispatch.Tx, *[]string) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	d := dispatch.New(nil)
	var reconciled []string
	d.SetReconciler(func(ctx context.Context, documentID string) (bool, error) {
		reconciled = append(reconciled, documentID)
		return true, nil
	})
	begin := func(t *testing.T) *dispatch.Tx {
		t.Helper()
		tx, err := d.Begin(context.Background(), conn)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		return tx
	}
	return d, begin, &reconciled
}

func TestCommitDrainsDeduplicated(t *testing.T) {
	_, begin, reconciled := newTestDispatcher(t)
	tx := begin(t)
	tx.AssignmentChanged("doc-1", domain.RoleFormatting)
	tx.ActionHolderChanged("doc-1")
	tx.LabelsChanged("doc-1")
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(*reconciled) != 1 || (*reconciled)[0] != "doc-1" {
		t.Fatalf("want one reconciliation of doc-1, got %v", *reconciled)
	}
}

func TestRollbackDiscardsPending(t *testing.T) {
	_, begin, reconciled := newTestDispatcher(t)
	tx := begin(t)
	tx.AssignmentChanged("doc-1", domain.RoleFormatting)
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if len(*reconciled) != 0 {
		t.Fatalf("rollback must not reconcile, got %v", *reconciled)
	}
}

func TestRollbackAfterCommitIsSafe(t *testing.T) {
	_, begin, reconciled := newTestDispatcher(t)
	tx := begin(t)
	tx.ActionHolderChanged("doc-1")
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("deferred rollback after commit: %v", err)
	}
	if len(*reconciled) != 1 {
		t.Fatalf("want one reconciliation, got %v", *reconciled)
	}
}

func TestBlockedRoleChangesAreIgnored(t *testing.T) {
	_, begin, reconciled := newTestDispatcher(t)
	tx := begin(t)
	tx.AssignmentChanged("doc-1", domain.RoleBlocked)
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(*reconciled) != 0 {
		t.Fatalf("blocked role mutations must not schedule, got %v", *reconciled)
	}
}

func TestSuspendResumeNests(t *testing.T) {
	d, begin, reconciled := newTestDispatcher(t)
	d.Suspend()
	d.Suspend()
	tx := begin(t)
	tx.ActionHolderChanged("doc-1")
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	d.Resume()
	tx = begin(t)
	tx.ActionHolderChanged("doc-2")
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(*reconciled) != 0 {
		t.Fatalf("still suspended after one resume, got %v", *reconciled)
	}
	d.Resume()
	tx = begin(t)
	tx.ActionHolderChanged("doc-3")
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(*reconciled) != 1 || (*reconciled)[0] != "doc-3" {
		t.Fatalf("want reconciliation of doc-3 only, got %v", *reconciled)
	}
	// Resume past zero clamps instead of going negative.
	d.Resume()
	tx = begin(t)
	tx.ActionHolderChanged("doc-4")
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(*reconciled) != 2 {
		t.Fatalf("want reconciliation after clamp, got %v", *reconciled)
	}
}
