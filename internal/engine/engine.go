package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"purple/internal/config"
	"purple/internal/dispatch"
	"purple/internal/domain"
	"purple/internal/events"
	"purple/internal/lifecycle"
	"purple/internal/repo"
)

// Engine owns every mutation of the editorial facts. Each operation runs in
// one transaction, appends an event, and notifies the dispatcher so the
// affected document is reconciled after commit.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Graph    lifecycle.Graph
	Dispatch *dispatch.Dispatcher
	Config   *config.Config
	Log      *zap.Logger
	Now      func() time.Time

	locks *docLocks
}

func New(db *sql.DB, cfg *config.Config, d *dispatch.Dispatcher, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Graph:    lifecycle.New(),
		Dispatch: d,
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
		locks:    newDocLocks(),
	}
	e.Events.Now = e.now
	if d != nil {
		d.SetReconciler(e.Reconcile)
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) lockTimeout() time.Duration {
	if e.Config != nil && e.Config.LockTimeout > 0 {
		return time.Duration(e.Config.LockTimeout)
	}
	return 5 * time.Second
}

func (e *Engine) begin(ctx context.Context) (*dispatch.Tx, error) {
	if e.Dispatch == nil {
		return nil, errors.New("dispatcher not configured")
	}
	return e.Dispatch.Begin(ctx, e.DB)
}

// SeedLabels inserts the configured labels if missing. Called at startup.
func (e *Engine) SeedLabels(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	for _, l := range e.Config.Labels {
		color := l.Color
		if color == "" {
			color = "purple"
		}
		label := domain.Label{
			Slug:         l.Slug,
			IsException:  l.IsException,
			IsComplexity: l.IsComplexity,
			Color:        color,
			Used:         true,
		}
		if err := e.Repo.EnsureLabel(ctx, nil, label); err != nil {
			return fmt.Errorf("seed label %s: %w", l.Slug, err)
		}
	}
	return nil
}

// DocumentCreateOptions are parameters for enqueuing a document.
type DocumentCreateOptions struct {
	ID               string
	DraftName        string
	RfcNumber        int
	Disposition      domain.Disposition
	ExternalDeadline string
	InternalGoal     string
	ActorID          string
}

func (e *Engine) CreateDocument(ctx context.Context, opts DocumentCreateOptions) (domain.Document, error) {
	if opts.DraftName == "" && opts.RfcNumber == 0 {
		return domain.Document{}, errors.New("draft name or rfc number required")
	}
	if opts.Disposition == "" {
		opts.Disposition = domain.DispositionCreated
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	d := domain.Document{
		ID:               id,
		DraftName:        optionalString(opts.DraftName),
		RfcNumber:        optionalInt(opts.RfcNumber),
		Disposition:      opts.Disposition,
		ExternalDeadline: optionalString(opts.ExternalDeadline),
		InternalGoal:     optionalString(opts.InternalGoal),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocument(ctx, tx.Tx, d); err != nil {
		return d, fmt.Errorf("insert document: %w", err)
	}
	if err := e.Events.Append(ctx, tx.Tx, "document.created", d.ID, "document", d.ID, opts.ActorID,
		events.EventPayload{"disposition": string(d.Disposition)}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

func (e *Engine) SetDisposition(ctx context.Context, documentID string, disposition domain.Disposition, actorID string) error {
	switch disposition {
	case domain.DispositionCreated, domain.DispositionInProgress, domain.DispositionPublished, domain.DispositionWithdrawn:
	default:
		return fmt.Errorf("unknown disposition %q", disposition)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	doc, err := e.Repo.GetDocument(ctx, tx.Tx, documentID)
	if err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateDocumentDisposition(ctx, tx.Tx, documentID, disposition, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx.Tx, "document.disposition", documentID, "document", documentID, actorID,
		events.EventPayload{"from": string(doc.Disposition), "to": string(disposition)}); err != nil {
		return err
	}
	return tx.Commit()
}

// AssignmentCreateOptions are parameters for assigning a role.
type AssignmentCreateOptions struct {
	DocumentID string
	PersonID   string
	Role       domain.Role
	Comment    string
	ActorID    string
}

func (e *Engine) CreateAssignment(ctx context.Context, opts AssignmentCreateOptions) (domain.Assignment, error) {
	if opts.Role == domain.RoleBlocked {
		return domain.Assignment{}, errors.New("role blocked is reserved for the reconciliation engine")
	}
	if !e.Graph.Contains(opts.Role) {
		return domain.Assignment{}, fmt.Errorf("unknown role %q", opts.Role)
	}
	if opts.PersonID == "" {
		return domain.Assignment{}, errors.New("person required")
	}
	if _, err := e.Repo.GetDocument(ctx, nil, opts.DocumentID); err != nil {
		return domain.Assignment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Assignment{
		ID:         uuid.New().String(),
		DocumentID: opts.DocumentID,
		PersonID:   &opts.PersonID,
		Role:       opts.Role,
		State:      domain.StateAssigned,
		Comment:    opts.Comment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAssignment(ctx, tx.Tx, a); err != nil {
		return a, fmt.Errorf("insert assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx.Tx, "assignment.created", a.DocumentID, "assignment", a.ID, opts.ActorID,
		events.EventPayload{"role": string(a.Role), "person": opts.PersonID}); err != nil {
		return a, err
	}
	tx.AssignmentChanged(a.DocumentID, a.Role)
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

func ensureAssignmentTransition(from, to domain.AssignmentState) error {
	switch from {
	case domain.StateAssigned:
		if to == domain.StateInProgress || to == domain.StateWithdrawn {
			return nil
		}
	case domain.StateInProgress:
		if to == domain.StateDone || to == domain.StateWithdrawn {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// AssignmentUpdateOptions encapsulates allowed assignment updates.
type AssignmentUpdateOptions struct {
	ID           string
	State        domain.AssignmentState
	AddTimeSpent time.Duration
	Comment      *string
	ActorID      string
}

func (e *Engine) UpdateAssignment(ctx context.Context, opts AssignmentUpdateOptions) (domain.Assignment, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetAssignment(ctx, tx.Tx, opts.ID)
	if err != nil {
		return a, err
	}
	// Humans never touch the synthetic marker.
	if a.Role == domain.RoleBlocked {
		return a, errors.New("blocked assignments are managed by the reconciliation engine")
	}
	from := a.State
	if opts.State != "" && opts.State != a.State {
		if err := ensureAssignmentTransition(a.State, opts.State); err != nil {
			return a, err
		}
		a.State = opts.State
	}
	if opts.AddTimeSpent > 0 {
		a.TimeSpentSeconds += int64(opts.AddTimeSpent / time.Second)
	}
	if opts.Comment != nil {
		a.Comment = *opts.Comment
	}
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAssignment(ctx, tx.Tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx.Tx, "assignment.updated", a.DocumentID, "assignment", a.ID, opts.ActorID,
		events.EventPayload{"from_state": string(from), "to_state": string(a.State)}); err != nil {
		return a, err
	}
	tx.AssignmentChanged(a.DocumentID, a.Role)
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// ActionHolderCreateOptions are parameters for opening an action holder.
type ActionHolderCreateOptions struct {
	DocumentID string
	PersonID   string
	Body       string
	Deadline   string
	Comment    string
	ActorID    string
}

func (e *Engine) AddActionHolder(ctx context.Context, opts ActionHolderCreateOptions) (domain.ActionHolder, error) {
	if opts.PersonID == "" {
		return domain.ActionHolder{}, errors.New("person required")
	}
	if _, err := e.Repo.GetDocument(ctx, nil, opts.DocumentID); err != nil {
		return domain.ActionHolder{}, err
	}
	h := domain.ActionHolder{
		ID:         uuid.New().String(),
		DocumentID: opts.DocumentID,
		PersonID:   opts.PersonID,
		Body:       opts.Body,
		SinceWhen:  e.now().UTC().Format(time.RFC3339),
		Deadline:   optionalString(opts.Deadline),
		Comment:    opts.Comment,
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return h, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertActionHolder(ctx, tx.Tx, h); err != nil {
		return h, fmt.Errorf("insert action holder: %w", err)
	}
	if err := e.Events.Append(ctx, tx.Tx, "action_holder.created", h.DocumentID, "action_holder", h.ID, opts.ActorID,
		events.EventPayload{"person": h.PersonID}); err != nil {
		return h, err
	}
	tx.ActionHolderChanged(h.DocumentID)
	if err := tx.Commit(); err != nil {
		return h, err
	}
	return h, nil
}

func (e *Engine) CompleteActionHolder(ctx context.Context, id, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	h, err := e.Repo.GetActionHolder(ctx, tx.Tx, id)
	if err != nil {
		return err
	}
	if h.Completed != nil {
		return errors.New("action holder already completed")
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.CompleteActionHolder(ctx, tx.Tx, id, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx.Tx, "action_holder.completed", h.DocumentID, "action_holder", h.ID, actorID, nil); err != nil {
		return err
	}
	tx.ActionHolderChanged(h.DocumentID)
	return tx.Commit()
}

func (e *Engine) AddLabel(ctx context.Context, documentID, slug, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetDocument(ctx, tx.Tx, documentID); err != nil {
		return err
	}
	exists, err := e.Repo.LabelExists(ctx, tx.Tx, slug)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("label %q not defined", slug)
	}
	if err := e.Repo.AddDocumentLabel(ctx, tx.Tx, documentID, slug); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx.Tx, "label.added", documentID, "label", slug, actorID, nil); err != nil {
		return err
	}
	tx.LabelsChanged(documentID)
	return tx.Commit()
}

func (e *Engine) RemoveLabel(ctx context.Context, documentID, slug, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveDocumentLabel(ctx, tx.Tx, documentID, slug); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx.Tx, "label.removed", documentID, "label", slug, actorID, nil); err != nil {
		return err
	}
	tx.LabelsChanged(documentID)
	return tx.Commit()
}

// RelatedDocumentOptions are parameters for recording a reference. Exactly
// one of TargetDocumentID and TargetDraftName must be set.
type RelatedDocumentOptions struct {
	SourceID         string
	Relationship     domain.Relationship
	TargetDocumentID string
	TargetDraftName  string
	ActorID          string
}

func (e *Engine) AddRelatedDocument(ctx context.Context, opts RelatedDocumentOptions) (domain.RelatedDocument, error) {
	switch opts.Relationship {
	case domain.RelNotReceived, domain.RelRefQueue, domain.RelWithdrawn:
	default:
		return domain.RelatedDocument{}, fmt.Errorf("unknown relationship %q", opts.Relationship)
	}
	if (opts.TargetDocumentID == "") == (opts.TargetDraftName == "") {
		return domain.RelatedDocument{}, errors.New("exactly one of target document and target draft required")
	}
	rd := domain.RelatedDocument{
		ID:               uuid.New().String(),
		SourceID:         opts.SourceID,
		Relationship:     opts.Relationship,
		TargetDocumentID: optionalString(opts.TargetDocumentID),
		TargetDraftName:  optionalString(opts.TargetDraftName),
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return rd, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetDocument(ctx, tx.Tx, opts.SourceID); err != nil {
		return rd, err
	}
	if opts.TargetDocumentID != "" {
		if _, err := e.Repo.GetDocument(ctx, tx.Tx, opts.TargetDocumentID); err != nil {
			return rd, err
		}
	}
	if err := e.Repo.InsertRelatedDocument(ctx, tx.Tx, rd); err != nil {
		return rd, fmt.Errorf("insert related document: %w", err)
	}
	if err := e.Events.Append(ctx, tx.Tx, "related.added", rd.SourceID, "related_document", rd.ID, opts.ActorID,
		events.EventPayload{"relationship": string(rd.Relationship)}); err != nil {
		return rd, err
	}
	tx.RelatedDocumentChanged(rd.SourceID)
	if err := tx.Commit(); err != nil {
		return rd, err
	}
	return rd, nil
}

func (e *Engine) RemoveRelatedDocument(ctx context.Context, id, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	rd, err := e.Repo.GetRelatedDocument(ctx, tx.Tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteRelatedDocument(ctx, tx.Tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx.Tx, "related.removed", rd.SourceID, "related_document", rd.ID, actorID, nil); err != nil {
		return err
	}
	tx.RelatedDocumentChanged(rd.SourceID)
	return tx.Commit()
}

func (e *Engine) RequestFinalApproval(ctx context.Context, documentID, body, approverID, actorID string) (domain.FinalApproval, error) {
	if _, err := e.Repo.GetDocument(ctx, nil, documentID); err != nil {
		return domain.FinalApproval{}, err
	}
	fa := domain.FinalApproval{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Body:       body,
		ApproverID: optionalString(approverID),
		Requested:  e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return fa, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFinalApproval(ctx, tx.Tx, fa); err != nil {
		return fa, fmt.Errorf("insert final approval: %w", err)
	}
	if err := e.Events.Append(ctx, tx.Tx, "approval.requested", documentID, "final_approval", fa.ID, actorID, nil); err != nil {
		return fa, err
	}
	// No trigger: approvals have no registration point; the sweep picks up
	// the gate-5 consequence.
	return fa, tx.Commit()
}

func (e *Engine) GrantFinalApproval(ctx context.Context, id, approverID, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	fa, err := e.Repo.GetFinalApproval(ctx, tx.Tx, id)
	if err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ApproveFinalApproval(ctx, tx.Tx, id, approverID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx.Tx, "approval.granted", fa.DocumentID, "final_approval", fa.ID, actorID,
		events.EventPayload{"approver": approverID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) AddClusterMember(ctx context.Context, clusterNumber int, draftName string, order int, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	m := domain.ClusterMember{ClusterNumber: clusterNumber, DraftName: draftName, OrderInCluster: order}
	if err := e.Repo.InsertClusterMember(ctx, tx.Tx, m); err != nil {
		return fmt.Errorf("insert cluster member: %w", err)
	}
	if err := e.Events.Append(ctx, tx.Tx, "cluster.member.added", "", "cluster_member", draftName, actorID,
		events.EventPayload{"cluster": clusterNumber}); err != nil {
		return err
	}
	e.notifyClusterChange(ctx, tx, draftName)
	return tx.Commit()
}

func (e *Engine) RemoveClusterMember(ctx context.Context, clusterNumber int, draftName string, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteClusterMember(ctx, tx.Tx, clusterNumber, draftName); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx.Tx, "cluster.member.removed", "", "cluster_member", draftName, actorID,
		events.EventPayload{"cluster": clusterNumber}); err != nil {
		return err
	}
	e.notifyClusterChange(ctx, tx, draftName)
	return tx.Commit()
}

// notifyClusterChange resolves the owning document of a draft; drafts not in
// the queue are ignored.
func (e *Engine) notifyClusterChange(ctx context.Context, tx *dispatch.Tx, draftName string) {
	doc, err := e.Repo.GetDocumentByDraftName(ctx, tx.Tx, draftName)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			e.Log.Warn("cluster change: resolve draft failed", zap.String("draft", draftName), zap.Error(err))
		}
		return
	}
	tx.ClusterMembershipChanged(doc.ID)
}

// QueueEntry is one row of the in-progress queue view.
type QueueEntry struct {
	Document          domain.Document     `json:"document"`
	ActiveAssignments []domain.Assignment `json:"active_assignments,omitempty"`
	PendingActivities []domain.Role       `json:"pending_activities,omitempty"`
	Blocked           bool                `json:"blocked"`
}

// Queue lists in-progress documents with their active work, eligible next
// roles and blocked status.
func (e *Engine) Queue(ctx context.Context) ([]QueueEntry, error) {
	docs, err := e.Repo.ListDocuments(ctx, repo.DocumentFilters{Disposition: domain.DispositionInProgress})
	if err != nil {
		return nil, err
	}
	var entries []QueueEntry
	for _, doc := range docs {
		assignments, err := e.Repo.ListAssignments(ctx, nil, doc.ID)
		if err != nil {
			return nil, err
		}
		entry := QueueEntry{Document: doc, PendingActivities: sortedRoles(e.Graph.Pending(assignments))}
		for _, a := range assignments {
			if !a.Active() {
				continue
			}
			if a.Role == domain.RoleBlocked {
				entry.Blocked = true
				continue
			}
			entry.ActiveAssignments = append(entry.ActiveAssignments, a)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// --- helpers ---

func sortedRoles(set map[domain.Role]bool) []domain.Role {
	roles := make([]domain.Role, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
