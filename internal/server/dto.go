package server

import (
	"time"

	"purple/internal/domain"
)

type CreateDocumentRequest struct {
	DraftName        string `json:"draft_name,omitempty"`
	RfcNumber        int    `json:"rfc_number,omitempty"`
	Disposition      string `json:"disposition,omitempty" enum:"created,in_progress"`
	ExternalDeadline string `json:"external_deadline,omitempty" format:"date-time"`
	InternalGoal     string `json:"internal_goal,omitempty" format:"date-time"`
}

type DocumentDetailResponse struct {
	Document    domain.Document     `json:"document"`
	Assignments []domain.Assignment `json:"assignments,omitempty"`
	Labels      []string            `json:"labels,omitempty"`
	Blocked     bool                `json:"blocked"`
}

// BlockedResponse pairs the evaluator verdict with the materialized marker.
// They diverge only between a fact change and its reconciliation.
type BlockedResponse struct {
	Blocked bool `json:"blocked"`
	Marked  bool `json:"marked"`
}

type ActivitiesResponse struct {
	Incomplete []domain.Role `json:"incomplete,omitempty"`
	Pending    []domain.Role `json:"pending,omitempty"`
}

type ReconcileResponse struct {
	Transitioned bool `json:"transitioned"`
	Blocked      bool `json:"blocked"`
}

type CreateAssignmentRequest struct {
	PersonID string `json:"person_id"`
	Role     string `json:"role" enum:"enqueuer,formatting,first_editor,second_editor,ref_checker,final_review_editor,publisher"`
	Comment  string `json:"comment,omitempty"`
}

type UpdateAssignmentRequest struct {
	State            string  `json:"state,omitempty" enum:"in_progress,done,withdrawn"`
	TimeSpentSeconds int64   `json:"time_spent_seconds,omitempty" minimum:"0"`
	Comment          *string `json:"comment,omitempty"`
}

func (r UpdateAssignmentRequest) AddTimeSpent() time.Duration {
	return time.Duration(r.TimeSpentSeconds) * time.Second
}

type CreateActionHolderRequest struct {
	PersonID string `json:"person_id"`
	Body     string `json:"body,omitempty"`
	Deadline string `json:"deadline,omitempty" format:"date-time"`
	Comment  string `json:"comment,omitempty"`
}

type CreateReferenceRequest struct {
	Relationship     string `json:"relationship" enum:"not-received,refqueue,withdrawn"`
	TargetDocumentID string `json:"target_document_id,omitempty"`
	TargetDraftName  string `json:"target_draft_name,omitempty"`
}

type CreateApprovalRequest struct {
	Body       string `json:"body,omitempty"`
	ApproverID string `json:"approver_id,omitempty"`
}
