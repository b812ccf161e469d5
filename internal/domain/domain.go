package domain

// Role is a named stage of editorial work. The set is closed; config
// validation rejects anything outside it at startup.
type Role string

const (
	RoleEnqueuer          Role = "enqueuer"
	RoleFormatting        Role = "formatting"
	RoleFirstEditor       Role = "first_editor"
	RoleSecondEditor      Role = "second_editor"
	RoleRefChecker        Role = "ref_checker"
	RoleFinalReviewEditor Role = "final_review_editor"
	RolePublisher         Role = "publisher"

	// RoleBlocked is synthetic: never a prerequisite, never assigned to a
	// person, written only by the reconciliation engine.
	RoleBlocked Role = "blocked"
)

// AssignmentState is the lifecycle state of an Assignment.
type AssignmentState string

const (
	StateAssigned      AssignmentState = "assigned"
	StateInProgress    AssignmentState = "in_progress"
	StateDone          AssignmentState = "done"
	StateWithdrawn     AssignmentState = "withdrawn"
	StateClosedForHold AssignmentState = "closed_for_hold"
)

// Active reports whether the state counts as an open piece of work.
func (s AssignmentState) Active() bool {
	switch s {
	case StateDone, StateWithdrawn, StateClosedForHold:
		return false
	}
	return true
}

// Relationship classifies a cross-document reference for gating purposes.
type Relationship string

const (
	RelNotReceived Relationship = "not-received"
	RelRefQueue    Relationship = "refqueue"
	RelWithdrawn   Relationship = "withdrawn"
)

// Disposition is the coarse position of a document in the pipeline.
type Disposition string

const (
	DispositionCreated    Disposition = "created"
	DispositionInProgress Disposition = "in_progress"
	DispositionPublished  Disposition = "published"
	DispositionWithdrawn  Disposition = "withdrawn"
)

// Label slugs that feed the gate evaluator. Other labels are inert here.
const (
	LabelStreamHold = "Stream Hold"
	LabelExtRefHold = "ExtRef Hold"
	LabelIANAHold   = "IANA Hold"
	LabelToolsIssue = "Tools Issue"
)

// Document is an RFC-to-be moving through the editorial queue. Its blocked
// status is never stored directly; it is the presence of an active
// blocked-role Assignment.
type Document struct {
	ID               string      `json:"id"`
	DraftName        *string     `json:"draft_name,omitempty"`
	RfcNumber        *int        `json:"rfc_number,omitempty"`
	Disposition      Disposition `json:"disposition" enum:"created,in_progress,published,withdrawn"`
	ExternalDeadline *string     `json:"external_deadline,omitempty" format:"date-time"`
	InternalGoal     *string     `json:"internal_goal,omitempty" format:"date-time"`
	CreatedAt        string      `json:"created_at" format:"date-time"`
	UpdatedAt        string      `json:"updated_at" format:"date-time"`
}

type Assignment struct {
	ID               string          `json:"id"`
	DocumentID       string          `json:"document_id"`
	PersonID         *string         `json:"person_id,omitempty"`
	Role             Role            `json:"role"`
	State            AssignmentState `json:"state" enum:"assigned,in_progress,done,withdrawn,closed_for_hold"`
	Comment          string          `json:"comment,omitempty"`
	TimeSpentSeconds int64           `json:"time_spent_seconds"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
	UpdatedAt        string          `json:"updated_at" format:"date-time"`
}

// Active reports whether the assignment is open work.
func (a Assignment) Active() bool { return a.State.Active() }

// ActionHolder is an outstanding task held by a person on a document,
// open until Completed is set.
type ActionHolder struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	PersonID   string  `json:"person_id"`
	Body       string  `json:"body,omitempty"`
	SinceWhen  string  `json:"since_when" format:"date-time"`
	Completed  *string `json:"completed,omitempty" format:"date-time"`
	Deadline   *string `json:"deadline,omitempty" format:"date-time"`
	Comment    string  `json:"comment,omitempty"`
}

// RelatedDocument links a source document to either another in-flight
// document or an external draft. Exactly one target is set.
type RelatedDocument struct {
	ID               string       `json:"id"`
	SourceID         string       `json:"source_id"`
	Relationship     Relationship `json:"relationship" enum:"not-received,refqueue,withdrawn"`
	TargetDocumentID *string      `json:"target_document_id,omitempty"`
	TargetDraftName  *string      `json:"target_draft_name,omitempty"`
}

type Label struct {
	Slug         string `json:"slug"`
	IsException  bool   `json:"is_exception"`
	IsComplexity bool   `json:"is_complexity"`
	Color        string `json:"color,omitempty"`
	Used         bool   `json:"used"`
}

// FinalApproval records a request for publication approval. Pending while
// Approved is nil.
type FinalApproval struct {
	ID                   string  `json:"id"`
	DocumentID           string  `json:"document_id"`
	Body                 string  `json:"body,omitempty"`
	ApproverID           *string `json:"approver_id,omitempty"`
	OverridingApproverID *string `json:"overriding_approver_id,omitempty"`
	Requested            string  `json:"requested" format:"date-time"`
	Approved             *string `json:"approved,omitempty" format:"date-time"`
}

// ClusterMember ties a draft to a cluster; membership changes trigger
// reconciliation of the owning document.
type ClusterMember struct {
	ClusterNumber  int    `json:"cluster_number"`
	DraftName      string `json:"draft_name"`
	OrderInCluster int    `json:"order_in_cluster"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DocumentID string `json:"document_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
