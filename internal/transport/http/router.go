// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dkarim/approval-engine/internal/auth"
	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/dkarim/approval-engine/internal/engine"
	"github.com/dkarim/approval-engine/internal/idempotency"
	"github.com/dkarim/approval-engine/internal/metrics"
	"github.com/dkarim/approval-engine/internal/repository"
	"github.com/dkarim/approval-engine/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type submitRequestBody struct {
	WorkflowID uuid.UUID       `json:"workflow_id"`
	Payload    json.RawMessage `json:"payload"`
}

type actionRequestBody struct {
	Comments string `json:"comments"`
}

type createWorkflowBody struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Steps       []createWorkflowStep `json:"steps"`
}

type createWorkflowStep struct {
	StepName     string `json:"step_name"`
	RequiredRole string `json:"required_role"`
	AutoApprove  bool   `json:"auto_approve"`
}

type createTenantBody struct {
	Name          string `json:"name"`
	AdminUsername string `json:"admin_username"`
	AdminEmail    string `json:"admin_email"`
}

type createUserBody struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
}

type Deps struct {
	Processor     RequestProcessor
	Requests      RequestReader
	Workflows     WorkflowManager
	Assignments   AssignmentReader
	Directory     DirectoryAdmin
	TokenResolver TokenResolver
	Idempotency   idempotency.Store
	Logger        *slog.Logger
	AdminToken    string
	Version       string
	Commit        string
	BuildDate     string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	guard := passthroughMiddleware
	if deps.Idempotency != nil {
		guard = idempotency.Guard(deps.Idempotency, logger)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- TENANT AND USER PROVISIONING (ADMIN) ----------------

	if deps.Directory != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/tenants", func(w http.ResponseWriter, r *http.Request) {
				var body createTenantBody
				if err := decodeJSONBody(r, &body); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				tenant, adminUser, err := deps.Directory.CreateTenant(r.Context(), body.Name, body.AdminUsername, body.AdminEmail)
				if err != nil {
					writeDomainError(w, logger, "create tenant", err)
					return
				}

				writeJSON(w, http.StatusCreated, map[string]any{
					"tenant":      tenant,
					"admin_user":  adminUser.User,
					"admin_token": adminUser.Token,
				})
			})

			admin.Post("/users", func(w http.ResponseWriter, r *http.Request) {
				var body createUserBody
				if err := decodeJSONBody(r, &body); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				created, err := deps.Directory.CreateUser(r.Context(), repository.CreateUserParams{
					TenantID: body.TenantID,
					Username: body.Username,
					Email:    body.Email,
					Role:     domain.Role(body.Role),
				})
				if err != nil {
					writeDomainError(w, logger, "create user", err)
					return
				}

				writeJSON(w, http.StatusCreated, map[string]any{
					"user":  created.User,
					"token": created.Token,
				})
			})
		})
	}

	// ---------------- AUTHENTICATED API ----------------

	r.Group(func(r chi.Router) {
		if deps.TokenResolver != nil {
			r.Use(middleware.UserTokenAuth(deps.TokenResolver, logger))
		}

		// ---------------- SUBMIT REQUEST ----------------

		r.With(guard).Post("/requests", func(w http.ResponseWriter, r *http.Request) {
			var body submitRequestBody
			if err := decodeJSONBody(r, &body); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if body.WorkflowID == uuid.Nil {
				http.Error(w, "workflow_id is required", http.StatusBadRequest)
				return
			}

			created, err := deps.Processor.Submit(r.Context(), engine.SubmitParams{
				WorkflowID: body.WorkflowID,
				Payload:    body.Payload,
			})
			if err != nil {
				writeDomainError(w, logger, "submit request", err)
				return
			}

			logger.Info("request submitted via API", "request_id", created.ID)
			writeJSON(w, http.StatusCreated, created)
		})

		// ---------------- LIST REQUESTS ----------------

		r.Get("/requests", func(w http.ResponseWriter, r *http.Request) {
			params, err := parseListRequestsQuery(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			requests, err := deps.Requests.List(r.Context(), params)
			if err != nil {
				writeDomainError(w, logger, "list requests", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
		})

		// ---------------- PENDING FOR CALLER ----------------

		r.Get("/requests/pending", func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			requests, err := deps.Requests.PendingForRole(r.Context(), principal.Role)
			if err != nil {
				writeDomainError(w, logger, "list pending requests", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
		})

		// ---------------- GET REQUEST ----------------

		r.Get("/requests/{id}", func(w http.ResponseWriter, r *http.Request) {
			requestID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid request ID", http.StatusBadRequest)
				return
			}

			request, err := deps.Requests.Get(r.Context(), requestID)
			if err != nil {
				writeDomainError(w, logger, "get request", err)
				return
			}

			writeJSON(w, http.StatusOK, request)
		})

		// ---------------- REQUEST HISTORY ----------------

		r.Get("/requests/{id}/history", func(w http.ResponseWriter, r *http.Request) {
			requestID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid request ID", http.StatusBadRequest)
				return
			}

			// Tenant scoping happens here; history rows themselves are not
			// tenant-filtered.
			if _, err := deps.Requests.Get(r.Context(), requestID); err != nil {
				writeDomainError(w, logger, "get request", err)
				return
			}

			actions, err := deps.Requests.History(r.Context(), requestID)
			if err != nil {
				writeDomainError(w, logger, "request history", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"request_id": requestID.String(),
				"actions":    actions,
			})
		})

		// ---------------- REQUEST ASSIGNMENTS ----------------

		r.Get("/requests/{id}/assignments", func(w http.ResponseWriter, r *http.Request) {
			requestID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid request ID", http.StatusBadRequest)
				return
			}

			if _, err := deps.Requests.Get(r.Context(), requestID); err != nil {
				writeDomainError(w, logger, "get request", err)
				return
			}

			assignments, err := deps.Assignments.ListByRequest(r.Context(), requestID)
			if err != nil {
				writeDomainError(w, logger, "list request assignments", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"request_id":  requestID.String(),
				"assignments": assignments,
			})
		})

		// ---------------- APPROVE / REJECT ----------------

		r.With(guard).Post("/requests/{id}/approve", actionHandler(deps, logger, domain.ActionApprove))
		r.With(guard).Post("/requests/{id}/reject", actionHandler(deps, logger, domain.ActionReject))

		// ---------------- MY ASSIGNMENTS ----------------

		r.Get("/assignments", func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			assignments, err := deps.Assignments.ListForUser(r.Context(), principal.UserID)
			if err != nil {
				writeDomainError(w, logger, "list assignments", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
		})

		// ---------------- WORKFLOWS ----------------

		r.Post("/workflows", func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			if principal.Role != domain.RoleSuperAdmin && principal.Role != domain.RoleTenantAdmin {
				http.Error(w, "workflow management requires an admin role", http.StatusForbidden)
				return
			}

			var body createWorkflowBody
			if err := decodeJSONBody(r, &body); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			params := repository.CreateWorkflowParams{
				Name:        body.Name,
				Description: body.Description,
			}
			for _, s := range body.Steps {
				params.Steps = append(params.Steps, repository.CreateStepParams{
					StepName:     s.StepName,
					RequiredRole: domain.Role(s.RequiredRole),
					AutoApprove:  s.AutoApprove,
				})
			}

			workflow, err := deps.Workflows.CreateWorkflow(r.Context(), params)
			if err != nil {
				writeDomainError(w, logger, "create workflow", err)
				return
			}

			logger.Info("workflow created via API", "workflow_id", workflow.ID)
			writeJSON(w, http.StatusCreated, workflow)
		})

		r.Get("/workflows", func(w http.ResponseWriter, r *http.Request) {
			workflows, err := deps.Workflows.List(r.Context())
			if err != nil {
				writeDomainError(w, logger, "list workflows", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
		})

		r.Get("/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
			workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid workflow ID", http.StatusBadRequest)
				return
			}

			workflow, err := deps.Workflows.Get(r.Context(), workflowID)
			if err != nil {
				writeDomainError(w, logger, "get workflow", err)
				return
			}

			writeJSON(w, http.StatusOK, workflow)
		})

		r.Get("/workflows/{id}/steps", func(w http.ResponseWriter, r *http.Request) {
			workflowID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid workflow ID", http.StatusBadRequest)
				return
			}

			steps, err := deps.Workflows.Steps(r.Context(), workflowID)
			if err != nil {
				writeDomainError(w, logger, "list workflow steps", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"workflow_id": workflowID.String(),
				"steps":       steps,
			})
		})
	})

	return r
}

func actionHandler(deps Deps, logger *slog.Logger, actionType domain.ActionType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid request ID", http.StatusBadRequest)
			return
		}

		var body actionRequestBody
		if err := decodeJSONBody(r, &body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		request, err := deps.Processor.Act(r.Context(), requestID, actionType, body.Comments)
		if err != nil {
			writeDomainError(w, logger, strings.ToLower(string(actionType)), err)
			return
		}

		logger.Info("request actioned via API",
			"request_id", requestID,
			"action", actionType,
			"status", request.Status,
		)
		writeJSON(w, http.StatusOK, request)
	}
}

// writeDomainError maps the domain error kinds onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept out of the response.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, op+": not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, op+": forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Error(op+" failed", "error", err)
		http.Error(w, op+" failed", http.StatusInternalServerError)
	}
}

func parseListRequestsQuery(r *http.Request) (repository.ListRequestsParams, error) {
	var params repository.ListRequestsParams
	q := r.URL.Query()

	if status := strings.TrimSpace(q.Get("status")); status != "" {
		params.Status = domain.RequestStatus(status)
	}
	if wf := strings.TrimSpace(q.Get("workflow_id")); wf != "" {
		id, err := uuid.Parse(wf)
		if err != nil {
			return params, errors.New("invalid workflow_id")
		}
		params.WorkflowID = id
	}
	if creator := strings.TrimSpace(q.Get("created_by")); creator != "" {
		id, err := uuid.Parse(creator)
		if err != nil {
			return params, errors.New("invalid created_by")
		}
		params.CreatedBy = id
	}
	if limit := strings.TrimSpace(q.Get("limit")); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return params, errors.New("invalid limit")
		}
		params.Limit = n
	}
	if offset := strings.TrimSpace(q.Get("offset")); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return params, errors.New("invalid offset")
		}
		params.Offset = n
	}

	return params, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONBody(r *http.Request, dst any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}

	return nil
}

func passthroughMiddleware(next http.Handler) http.Handler {
	return next
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
