package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"purple/internal/domain"
	"purple/internal/engine"
	"purple/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"unknown role \"editor\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Purple API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Purple API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerDocuments(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerActionHolders(group, cfg.Engine)
	registerLabels(group, cfg.Engine)
	registerReferences(group, cfg.Engine)
	registerApprovals(group, cfg.Engine)
	registerClusters(group, cfg.Engine)
	registerReconcile(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrLockTimeout) {
		return newAPIError(http.StatusConflict, "lock_timeout", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInvalidTransition) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), nil)
	}
	var rerr *engine.ReconciliationError
	if errors.As(err, &rerr) {
		return newAPIError(http.StatusInternalServerError, "reconciliation_failed", err.Error(),
			map[string]any{"document_id": rerr.DocumentID, "transition": rerr.Transition})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "reserved") || strings.Contains(lowered, "not defined") ||
		strings.Contains(lowered, "managed by"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(lowered, "unique") || strings.Contains(lowered, "already"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDocuments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/documents",
		Summary:       "Enqueue a document",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDocument(ctx, engine.DocumentCreateOptions{
			DraftName:        input.Body.DraftName,
			RfcNumber:        input.Body.RfcNumber,
			Disposition:      domain.Disposition(input.Body.Disposition),
			ExternalDeadline: input.Body.ExternalDeadline,
			InternalGoal:     input.Body.InternalGoal,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List documents",
	}, func(ctx context.Context, input *struct {
		Disposition string `query:"disposition"`
		Limit       int    `query:"limit"`
	}) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		docs, err := e.Repo.ListDocuments(ctx, repo.DocumentFilters{
			Disposition: domain.Disposition(input.Disposition),
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: docs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}",
		Summary:     "Get document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body DocumentDetailResponse `json:"body"`
	}, error) {
		d, err := e.Repo.GetDocument(ctx, nil, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		assignments, err := e.Repo.ListAssignments(ctx, nil, d.ID)
		if err != nil {
			return nil, handleError(err)
		}
		labels, err := e.Repo.ListDocumentLabels(ctx, nil, d.ID)
		if err != nil {
			return nil, handleError(err)
		}
		blocked, err := e.Repo.HasActiveBlocked(ctx, nil, d.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentDetailResponse `json:"body"`
		}{Body: DocumentDetailResponse{
			Document:    d,
			Assignments: assignments,
			Labels:      labels,
			Blocked:     blocked,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-disposition",
		Method:      http.MethodPatch,
		Path:        "/documents/{document_id}",
		Summary:     "Update document disposition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		Body       struct {
			Disposition string `json:"disposition" enum:"created,in_progress,published,withdrawn"`
		} `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetDisposition(ctx, input.DocumentID, domain.Disposition(input.Body.Disposition), actorID); err != nil {
			return nil, handleError(err)
		}
		d, err := e.Repo.GetDocument(ctx, nil, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "In-progress queue with activity and blocked status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.QueueEntry `json:"body"`
	}, error) {
		entries, err := e.Queue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.QueueEntry `json:"body"`
		}{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "document-blocked",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/blocked",
		Summary:     "Blocked verdict for a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body BlockedResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDocument(ctx, nil, input.DocumentID); err != nil {
			return nil, handleError(err)
		}
		verdict, err := e.IsBlocked(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		marked, err := e.Repo.HasActiveBlocked(ctx, nil, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BlockedResponse `json:"body"`
		}{Body: BlockedResponse{Blocked: verdict, Marked: marked}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "document-activities",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/activities",
		Summary:     "Incomplete and pending activities",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body ActivitiesResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDocument(ctx, nil, input.DocumentID); err != nil {
			return nil, handleError(err)
		}
		incomplete, err := e.IncompleteActivities(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		pending, err := e.PendingActivities(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivitiesResponse `json:"body"`
		}{Body: ActivitiesResponse{Incomplete: incomplete, Pending: pending}}, nil
	})
}

func registerAssignments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assignment",
		Method:        http.MethodPost,
		Path:          "/documents/{document_id}/assignments",
		Summary:       "Assign a role",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string                  `path:"document_id"`
		Body       CreateAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAssignment(ctx, engine.AssignmentCreateOptions{
			DocumentID: input.DocumentID,
			PersonID:   input.Body.PersonID,
			Role:       domain.Role(input.Body.Role),
			Comment:    input.Body.Comment,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-assignment",
		Method:      http.MethodPatch,
		Path:        "/assignments/{assignment_id}",
		Summary:     "Update assignment state, time spent or comment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AssignmentID string                  `path:"assignment_id"`
		Body         UpdateAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAssignment(ctx, engine.AssignmentUpdateOptions{
			ID:           input.AssignmentID,
			State:        domain.AssignmentState(input.Body.State),
			AddTimeSpent: input.Body.AddTimeSpent(),
			Comment:      input.Body.Comment,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})
}

func registerActionHolders(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-action-holder",
		Method:        http.MethodPost,
		Path:          "/documents/{document_id}/action-holders",
		Summary:       "Open an action holder",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string                    `path:"document_id"`
		Body       CreateActionHolderRequest `json:"body"`
	}) (*struct {
		Body domain.ActionHolder `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.AddActionHolder(ctx, engine.ActionHolderCreateOptions{
			DocumentID: input.DocumentID,
			PersonID:   input.Body.PersonID,
			Body:       input.Body.Body,
			Deadline:   input.Body.Deadline,
			Comment:    input.Body.Comment,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionHolder `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-action-holders",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/action-holders",
		Summary:     "List action holders",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body []domain.ActionHolder `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDocument(ctx, nil, input.DocumentID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListActionHolders(ctx, nil, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ActionHolder `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-action-holder",
		Method:      http.MethodPost,
		Path:        "/action-holders/{action_holder_id}/complete",
		Summary:     "Complete an action holder",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActionHolderID string `path:"action_holder_id"`
	}) (*struct {
		Body domain.ActionHolder `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CompleteActionHolder(ctx, input.ActionHolderID, actorID); err != nil {
			return nil, handleError(err)
		}
		h, err := e.Repo.GetActionHolder(ctx, nil, input.ActionHolderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionHolder `json:"body"`
		}{Body: h}, nil
	})
}

func registerLabels(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-label",
		Method:        http.MethodPut,
		Path:          "/documents/{document_id}/labels/{slug}",
		Summary:       "Attach a label",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		Slug       string `path:"slug"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddLabel(ctx, input.DocumentID, input.Slug, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-label",
		Method:        http.MethodDelete,
		Path:          "/documents/{document_id}/labels/{slug}",
		Summary:       "Detach a label",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		Slug       string `path:"slug"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveLabel(ctx, input.DocumentID, input.Slug, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-document-labels",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/labels",
		Summary:     "List labels on a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDocument(ctx, nil, input.DocumentID); err != nil {
			return nil, handleError(err)
		}
		slugs, err := e.Repo.ListDocumentLabels(ctx, nil, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: slugs}, nil
	})
}

func registerReferences(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-reference",
		Method:        http.MethodPost,
		Path:          "/documents/{document_id}/references",
		Summary:       "Record a reference relationship",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string                 `path:"document_id"`
		Body       CreateReferenceRequest `json:"body"`
	}) (*struct {
		Body domain.RelatedDocument `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rd, err := e.AddRelatedDocument(ctx, engine.RelatedDocumentOptions{
			SourceID:         input.DocumentID,
			Relationship:     domain.Relationship(input.Body.Relationship),
			TargetDocumentID: input.Body.TargetDocumentID,
			TargetDraftName:  input.Body.TargetDraftName,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RelatedDocument `json:"body"`
		}{Body: rd}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-references",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/references",
		Summary:     "List reference relationships",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID   string `path:"document_id"`
		Relationship string `query:"relationship"`
	}) (*struct {
		Body []domain.RelatedDocument `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDocument(ctx, nil, input.DocumentID); err != nil {
			return nil, handleError(err)
		}
		refs, err := e.Repo.ListRelatedBySource(ctx, nil, input.DocumentID, domain.Relationship(input.Relationship))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RelatedDocument `json:"body"`
		}{Body: refs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-reference",
		Method:        http.MethodDelete,
		Path:          "/references/{reference_id}",
		Summary:       "Remove a reference relationship",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReferenceID string `path:"reference_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveRelatedDocument(ctx, input.ReferenceID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerApprovals(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-approval",
		Method:        http.MethodPost,
		Path:          "/documents/{document_id}/approvals",
		Summary:       "Request final approval",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string                `path:"document_id"`
		Body       CreateApprovalRequest `json:"body"`
	}) (*struct {
		Body domain.FinalApproval `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fa, err := e.RequestFinalApproval(ctx, input.DocumentID, input.Body.Body, input.Body.ApproverID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FinalApproval `json:"body"`
		}{Body: fa}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{approval_id}/approve",
		Summary:     "Grant final approval",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ApprovalID string `path:"approval_id"`
		Body       struct {
			ApproverID string `json:"approver_id,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.FinalApproval `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		approver := input.Body.ApproverID
		if approver == "" {
			approver = actorID
		}
		if err := e.GrantFinalApproval(ctx, input.ApprovalID, approver, actorID); err != nil {
			return nil, handleError(err)
		}
		fa, err := e.Repo.GetFinalApproval(ctx, nil, input.ApprovalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FinalApproval `json:"body"`
		}{Body: fa}, nil
	})
}

func registerClusters(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-cluster-member",
		Method:        http.MethodPost,
		Path:          "/clusters/{cluster_number}/members",
		Summary:       "Add a draft to a cluster",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ClusterNumber int `path:"cluster_number"`
		Body          struct {
			DraftName      string `json:"draft_name"`
			OrderInCluster int    `json:"order_in_cluster,omitempty"`
		} `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.DraftName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "draft_name is required", nil)
		}
		if err := e.AddClusterMember(ctx, input.ClusterNumber, input.Body.DraftName, input.Body.OrderInCluster, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cluster-members",
		Method:      http.MethodGet,
		Path:        "/clusters/{cluster_number}/members",
		Summary:     "List cluster members",
	}, func(ctx context.Context, input *struct {
		ClusterNumber int `path:"cluster_number"`
	}) (*struct {
		Body []domain.ClusterMember `json:"body"`
	}, error) {
		items, err := e.Repo.ListClusterMembers(ctx, nil, input.ClusterNumber)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ClusterMember `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-cluster-member",
		Method:        http.MethodDelete,
		Path:          "/clusters/{cluster_number}/members/{draft_name}",
		Summary:       "Remove a draft from a cluster",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClusterNumber int    `path:"cluster_number"`
		DraftName     string `path:"draft_name"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveClusterMember(ctx, input.ClusterNumber, input.DraftName, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerReconcile(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reconcile-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/reconcile",
		Summary:     "Reconcile one document",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body ReconcileResponse `json:"body"`
	}, error) {
		transitioned, err := e.Reconcile(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		blocked, err := e.Repo.HasActiveBlocked(ctx, nil, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReconcileResponse `json:"body"`
		}{Body: ReconcileResponse{Transitioned: transitioned, Blocked: blocked}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-all",
		Method:      http.MethodPost,
		Path:        "/reconcile",
		Summary:     "Sweep all in-progress documents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.ReconcileAllInProgress(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events, newest first",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		DocumentID string `query:"document_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.DocumentID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
