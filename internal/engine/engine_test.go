package engine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"purple/internal/config"
	"purple/internal/db"
	"purple/internal/dispatch"
	"purple/internal/domain"
	"purple/internal/engine"
	"purple/internal/migrate"
)

type testEnv struct {
	Engine   *engine.Engine
	Dispatch *dispatch.Dispatcher
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	d := dispatch.New(nil)
	eng := engine.New(conn, cfg, d, nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.SeedLabels(ctx); err != nil {
		t.Fatalf("seed labels: %v", err)
	}
	return testEnv{Engine: eng, Dispatch: d, Ctx: ctx}
}

func createDoc(t *testing.T, env testEnv, draft string) domain.Document {
	t.Helper()
	d, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentCreateOptions{
		DraftName:   draft,
		Disposition: domain.DispositionInProgress,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return d
}

// completeRole assigns a role and walks it assigned -> in_progress -> done.
func completeRole(t *testing.T, env testEnv, docID string, role domain.Role) {
	t.Helper()
	a, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentCreateOptions{
		DocumentID: docID, PersonID: "person-" + string(role), Role: role, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("assign %s: %v", role, err)
	}
	for _, state := range []domain.AssignmentState{domain.StateInProgress, domain.StateDone} {
		if _, err := env.Engine.UpdateAssignment(env.Ctx, engine.AssignmentUpdateOptions{
			ID: a.ID, State: state, ActorID: "tester",
		}); err != nil {
			t.Fatalf("%s -> %s: %v", role, state, err)
		}
	}
}

func blockedMarker(t *testing.T, env testEnv, docID string) bool {
	t.Helper()
	marked, err := env.Engine.Repo.HasActiveBlocked(env.Ctx, nil, docID)
	if err != nil {
		t.Fatalf("read blocked marker: %v", err)
	}
	return marked
}

// assertAgreement checks the invariant that after reconciliation the
// materialized marker equals the evaluator verdict.
func assertAgreement(t *testing.T, env testEnv, docID string) {
	t.Helper()
	verdict, err := env.Engine.IsBlocked(env.Ctx, docID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if marked := blockedMarker(t, env, docID); marked != verdict {
		t.Fatalf("marker %v disagrees with verdict %v", marked, verdict)
	}
}

func countBlockedAssignments(t *testing.T, env testEnv, docID string) (active, total int) {
	t.Helper()
	assignments, err := env.Engine.Repo.ListAssignments(env.Ctx, nil, docID)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	for _, a := range assignments {
		if a.Role != domain.RoleBlocked {
			continue
		}
		total++
		if a.Active() {
			active++
		}
	}
	return active, total
}

func TestActionHolderBlocksAndUnblocks(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-holder")
	completeRole(t, env, doc.ID, domain.RoleEnqueuer)
	assertAgreement(t, env, doc.ID)
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("fresh document should not be blocked")
	}

	h, err := env.Engine.AddActionHolder(env.Ctx, engine.ActionHolderCreateOptions{
		DocumentID: doc.ID, PersonID: "author", Body: "awaiting revised figures", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("add action holder: %v", err)
	}
	if !blockedMarker(t, env, doc.ID) {
		t.Fatalf("open action holder should block at formatting")
	}
	assertAgreement(t, env, doc.ID)

	if err := env.Engine.CompleteActionHolder(env.Ctx, h.ID, "tester"); err != nil {
		t.Fatalf("complete action holder: %v", err)
	}
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("completed action holder should unblock")
	}
	assertAgreement(t, env, doc.ID)
	if active, total := countBlockedAssignments(t, env, doc.ID); active != 0 || total != 1 {
		t.Fatalf("want one closed blocked assignment, got active=%d total=%d", active, total)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-idem")
	completeRole(t, env, doc.ID, domain.RoleEnqueuer)
	if _, err := env.Engine.AddActionHolder(env.Ctx, engine.ActionHolderCreateOptions{
		DocumentID: doc.ID, PersonID: "author", ActorID: "tester",
	}); err != nil {
		t.Fatalf("add action holder: %v", err)
	}
	if !blockedMarker(t, env, doc.ID) {
		t.Fatalf("expected blocked")
	}
	transitioned, err := env.Engine.Reconcile(env.Ctx, doc.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if transitioned {
		t.Fatalf("second reconcile must be a no-op")
	}
	if active, _ := countBlockedAssignments(t, env, doc.ID); active != 1 {
		t.Fatalf("want exactly one active blocked assignment, got %d", active)
	}
}

func TestGatePrecedenceNoFallthrough(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-gates")
	completeRole(t, env, doc.ID, domain.RoleEnqueuer)
	completeRole(t, env, doc.ID, domain.RoleFormatting)
	completeRole(t, env, doc.ID, domain.RoleRefChecker)

	// First edit is the match now. An IANA hold only matters to later gates,
	// so it must not block here.
	if err := env.Engine.AddLabel(env.Ctx, doc.ID, domain.LabelIANAHold, "tester"); err != nil {
		t.Fatalf("add label: %v", err)
	}
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("IANA hold must not block during first edit")
	}
	assertAgreement(t, env, doc.ID)

	// Likewise a pending final approval only matters at publication.
	if _, err := env.Engine.RequestFinalApproval(env.Ctx, doc.ID, "early request", "chair", "tester"); err != nil {
		t.Fatalf("request approval: %v", err)
	}
	if verdict, err := env.Engine.IsBlocked(env.Ctx, doc.ID); err != nil || verdict {
		t.Fatalf("pending approval must not block first edit (verdict=%v err=%v)", verdict, err)
	}

	// A stream hold is in the first-edit gate's set and must block.
	if err := env.Engine.AddLabel(env.Ctx, doc.ID, domain.LabelStreamHold, "tester"); err != nil {
		t.Fatalf("add label: %v", err)
	}
	if !blockedMarker(t, env, doc.ID) {
		t.Fatalf("stream hold must block during first edit")
	}
	if err := env.Engine.RemoveLabel(env.Ctx, doc.ID, domain.LabelStreamHold, "tester"); err != nil {
		t.Fatalf("remove label: %v", err)
	}
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("expected unblocked after stream hold removed")
	}
	if err := env.Engine.RemoveLabel(env.Ctx, doc.ID, domain.LabelIANAHold, "tester"); err != nil {
		t.Fatalf("remove label: %v", err)
	}

	// Advance to final review. Re-adding the IANA hold there must not block:
	// the final-review gate ignores it and does not fall through to the
	// publication gate's label set.
	completeRole(t, env, doc.ID, domain.RoleFirstEditor)
	completeRole(t, env, doc.ID, domain.RoleSecondEditor)
	if err := env.Engine.AddLabel(env.Ctx, doc.ID, domain.LabelIANAHold, "tester"); err != nil {
		t.Fatalf("add label: %v", err)
	}
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("IANA hold must not block final review")
	}
	assertAgreement(t, env, doc.ID)

	// At publication the IANA hold finally bites.
	completeRole(t, env, doc.ID, domain.RoleFinalReviewEditor)
	if !blockedMarker(t, env, doc.ID) {
		t.Fatalf("IANA hold must block publication")
	}
	assertAgreement(t, env, doc.ID)
}

func TestSiblingsClosedForHoldAndNotReactivated(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-siblings")
	completeRole(t, env, doc.ID, domain.RoleEnqueuer)
	formatting, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentCreateOptions{
		DocumentID: doc.ID, PersonID: "fmt-person", Role: domain.RoleFormatting, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("assign formatting: %v", err)
	}
	h, err := env.Engine.AddActionHolder(env.Ctx, engine.ActionHolderCreateOptions{
		DocumentID: doc.ID, PersonID: "author", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("add action holder: %v", err)
	}

	got, err := env.Engine.Repo.GetAssignment(env.Ctx, nil, formatting.ID)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if got.State != domain.StateClosedForHold {
		t.Fatalf("sibling state = %s, want closed_for_hold", got.State)
	}

	if err := env.Engine.CompleteActionHolder(env.Ctx, h.ID, "tester"); err != nil {
		t.Fatalf("complete action holder: %v", err)
	}
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("expected unblocked")
	}
	got, err = env.Engine.Repo.GetAssignment(env.Ctx, nil, formatting.ID)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if got.State != domain.StateClosedForHold {
		t.Fatalf("sibling must stay closed_for_hold after unblock, got %s", got.State)
	}
}

func TestConcurrentReconcileCreatesOneMarker(t *testing.T) {
	env := newTestEnv(t)
	env.Dispatch.Suspend()
	doc := createDoc(t, env, "draft-race")
	completeRole(t, env, doc.ID, domain.RoleEnqueuer)
	if _, err := env.Engine.AddActionHolder(env.Ctx, engine.ActionHolderCreateOptions{
		DocumentID: doc.ID, PersonID: "author", ActorID: "tester",
	}); err != nil {
		t.Fatalf("add action holder: %v", err)
	}
	env.Dispatch.Resume()

	var wg sync.WaitGroup
	var transitions int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transitioned, err := env.Engine.Reconcile(env.Ctx, doc.ID)
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			if transitioned {
				atomic.AddInt64(&transitions, 1)
			}
		}()
	}
	wg.Wait()
	if transitions != 1 {
		t.Fatalf("want exactly one transition, got %d", transitions)
	}
	if active, total := countBlockedAssignments(t, env, doc.ID); active != 1 || total != 1 {
		t.Fatalf("want a single blocked assignment, got active=%d total=%d", active, total)
	}
}

func TestRefQueueGatingAndSweep(t *testing.T) {
	env := newTestEnv(t)
	source := createDoc(t, env, "draft-source")
	target := createDoc(t, env, "draft-target")
	for _, role := range []domain.Role{domain.RoleEnqueuer, domain.RoleFormatting, domain.RoleFirstEditor, domain.RoleRefChecker} {
		completeRole(t, env, source.ID, role)
	}

	// An external-draft reference is not gating.
	if _, err := env.Engine.AddRelatedDocument(env.Ctx, engine.RelatedDocumentOptions{
		SourceID: source.ID, Relationship: domain.RelRefQueue, TargetDraftName: "draft-elsewhere", ActorID: "tester",
	}); err != nil {
		t.Fatalf("add external ref: %v", err)
	}
	if blockedMarker(t, env, source.ID) {
		t.Fatalf("external draft reference must not block")
	}

	// An in-queue target that has not finished first edit blocks second edit.
	if _, err := env.Engine.AddRelatedDocument(env.Ctx, engine.RelatedDocumentOptions{
		SourceID: source.ID, Relationship: domain.RelRefQueue, TargetDocumentID: target.ID, ActorID: "tester",
	}); err != nil {
		t.Fatalf("add ref: %v", err)
	}
	if !blockedMarker(t, env, source.ID) {
		t.Fatalf("incomplete ref target must block second edit")
	}

	// Finishing the target only reconciles the target; the source's stale
	// marker is the sweep's job.
	for _, role := range []domain.Role{domain.RoleEnqueuer, domain.RoleFormatting, domain.RoleFirstEditor} {
		completeRole(t, env, target.ID, role)
	}
	if !blockedMarker(t, env, source.ID) {
		t.Fatalf("source marker should be stale until swept")
	}
	if err := env.Engine.ReconcileAllInProgress(env.Ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if blockedMarker(t, env, source.ID) {
		t.Fatalf("sweep should unblock the source")
	}
	assertAgreement(t, env, source.ID)
}

func TestNotReceivedReferenceBlocks(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-notrecv")
	completeRole(t, env, doc.ID, domain.RoleEnqueuer)
	rd, err := env.Engine.AddRelatedDocument(env.Ctx, engine.RelatedDocumentOptions{
		SourceID: doc.ID, Relationship: domain.RelNotReceived, TargetDraftName: "draft-missing", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("add ref: %v", err)
	}
	if !blockedMarker(t, env, doc.ID) {
		t.Fatalf("not-received reference must block formatting")
	}
	if err := env.Engine.RemoveRelatedDocument(env.Ctx, rd.ID, "tester"); err != nil {
		t.Fatalf("remove ref: %v", err)
	}
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("expected unblocked after reference removed")
	}
}

func TestFinalApprovalGatesPublicationViaSweep(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-approval")
	for _, role := range []domain.Role{
		domain.RoleEnqueuer, domain.RoleFormatting, domain.RoleFirstEditor,
		domain.RoleSecondEditor, domain.RoleRefChecker, domain.RoleFinalReviewEditor,
	} {
		completeRole(t, env, doc.ID, role)
	}
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("nothing should block publication yet")
	}

	fa, err := env.Engine.RequestFinalApproval(env.Ctx, doc.ID, "stream sign-off", "chair", "tester")
	if err != nil {
		t.Fatalf("request approval: %v", err)
	}
	// Approval changes have no trigger; the marker diverges until swept.
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("marker should be stale before sweep")
	}
	verdict, err := env.Engine.IsBlocked(env.Ctx, doc.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !verdict {
		t.Fatalf("pending approval must block publication")
	}
	if err := env.Engine.ReconcileAllInProgress(env.Ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !blockedMarker(t, env, doc.ID) {
		t.Fatalf("sweep should materialize the block")
	}

	if err := env.Engine.GrantFinalApproval(env.Ctx, fa.ID, "chair", "tester"); err != nil {
		t.Fatalf("grant approval: %v", err)
	}
	if err := env.Engine.ReconcileAllInProgress(env.Ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if blockedMarker(t, env, doc.ID) {
		t.Fatalf("granted approval should unblock via sweep")
	}
	assertAgreement(t, env, doc.ID)
}

func TestPendingActivitiesFollowGraph(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-pending")
	pending, err := env.Engine.PendingActivities(env.Ctx, doc.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != domain.RoleEnqueuer {
		t.Fatalf("fresh document pending = %v, want [enqueuer]", pending)
	}

	completeRole(t, env, doc.ID, domain.RoleEnqueuer)
	completeRole(t, env, doc.ID, domain.RoleFormatting)
	pending, err = env.Engine.PendingActivities(env.Ctx, doc.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0] != domain.RoleFirstEditor || pending[1] != domain.RoleRefChecker {
		t.Fatalf("pending = %v, want [first_editor ref_checker]", pending)
	}

	// A withdrawn assignment frees the role again.
	a, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentCreateOptions{
		DocumentID: doc.ID, PersonID: "ed", Role: domain.RoleFirstEditor, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.UpdateAssignment(env.Ctx, engine.AssignmentUpdateOptions{
		ID: a.ID, State: domain.StateWithdrawn, ActorID: "tester",
	}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	pending, err = env.Engine.PendingActivities(env.Ctx, doc.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0] != domain.RoleFirstEditor {
		t.Fatalf("withdrawn assignment should leave the role pending, got %v", pending)
	}
}

func TestBlockedRoleIsReserved(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-reserved")
	if _, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentCreateOptions{
		DocumentID: doc.ID, PersonID: "anyone", Role: domain.RoleBlocked, ActorID: "tester",
	}); err == nil {
		t.Fatalf("expected error assigning the blocked role")
	}

	completeRole(t, env, doc.ID, domain.RoleEnqueuer)
	if _, err := env.Engine.AddActionHolder(env.Ctx, engine.ActionHolderCreateOptions{
		DocumentID: doc.ID, PersonID: "author", ActorID: "tester",
	}); err != nil {
		t.Fatalf("add action holder: %v", err)
	}
	blocked, err := env.Engine.Repo.LatestActiveBlocked(env.Ctx, nil, doc.ID)
	if err != nil {
		t.Fatalf("latest blocked: %v", err)
	}
	if _, err := env.Engine.UpdateAssignment(env.Ctx, engine.AssignmentUpdateOptions{
		ID: blocked.ID, State: domain.StateDone, ActorID: "tester",
	}); err == nil {
		t.Fatalf("expected error touching the blocked assignment")
	}
}

func TestInvalidAssignmentTransition(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-transitions")
	a, err := env.Engine.CreateAssignment(env.Ctx, engine.AssignmentCreateOptions{
		DocumentID: doc.ID, PersonID: "p", Role: domain.RoleEnqueuer, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.UpdateAssignment(env.Ctx, engine.AssignmentUpdateOptions{
		ID: a.ID, State: domain.StateDone, ActorID: "tester",
	}); err == nil {
		t.Fatalf("assigned -> done must be rejected")
	}
}

func TestQueueView(t *testing.T) {
	env := newTestEnv(t)
	doc := createDoc(t, env, "draft-queue")
	completeRole(t, env, doc.ID, domain.RoleEnqueuer)
	if _, err := env.Engine.AddActionHolder(env.Ctx, engine.ActionHolderCreateOptions{
		DocumentID: doc.ID, PersonID: "author", ActorID: "tester",
	}); err != nil {
		t.Fatalf("add action holder: %v", err)
	}
	entries, err := env.Engine.Queue(env.Ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want one queue entry, got %d", len(entries))
	}
	entry := entries[0]
	if !entry.Blocked {
		t.Fatalf("queue entry should be flagged blocked")
	}
	if len(entry.PendingActivities) == 0 || entry.PendingActivities[0] != domain.RoleFormatting {
		t.Fatalf("pending = %v, want formatting first", entry.PendingActivities)
	}
}
