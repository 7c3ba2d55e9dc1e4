package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"siteflow/internal/domain"
	"siteflow/internal/engine"
	"siteflow/internal/repo"
	"siteflow/internal/rules"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Repo     repo.Repo
	BasePath string
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"project not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the siteflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are reported as 400
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(RequestLogger(logger))
	hcfg := huma.DefaultConfig("Siteflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, repo: cfg.Repo, log: logger}
	registerDocs(router, basePath)
	registerHealth(group)
	registerPhases(group)
	registerProjects(group, h)
	registerTasks(group, h)
	registerValidation(group, h)
	registerInspections(group, h)
	registerOptimization(group, h)
	registerConflicts(group, h)
	registerEvents(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	engine engine.Engine
	repo   repo.Repo
	log    *zap.Logger
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

func (h handlers) handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique constraint"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "foreign key"):
		return newAPIError(http.StatusNotFound, "not_found", "project not found", map[string]any{"error": msg})
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		h.log.Error("request failed", zap.Error(err))
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

// requireProject turns a missing project into a 404 before any work is done.
func (h handlers) requireProject(ctx context.Context, projectID string) error {
	if _, err := h.repo.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("project %s: %w", projectID, err)
		}
		return err
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Siteflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
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

func registerPhases(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-phases",
		Method:      http.MethodGet,
		Path:        "/phases",
		Summary:     "List construction phase rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []rules.PhaseRule `json:"body"`
	}, error) {
		return &struct {
			Body []rules.PhaseRule `json:"body"`
		}{Body: rules.All()}, nil
	})
}

func registerProjects(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p := domain.Project{ID: input.Body.ID}
		if input.Body.Name != nil {
			p.Name = *input.Body.Name
		}
		if input.Body.Description != nil {
			p.Description = *input.Body.Description
		}
		created, err := h.repo.InsertProject(ctx, p)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := h.repo.ListProjects(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNil(items)}, nil
	})
}

func registerTasks(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks ordered by start date",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Phase     string `query:"phase"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		if err := h.requireProject(ctx, input.ProjectID); err != nil {
			return nil, h.handleError(err)
		}
		items, err := h.repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID: input.ProjectID,
			Phase:     input.Phase,
			Status:    input.Status,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-tasks",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "Create or replace tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      UpsertTasksRequest `json:"body"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		if err := h.requireProject(ctx, input.ProjectID); err != nil {
			return nil, h.handleError(err)
		}
		for _, t := range input.Body.Tasks {
			if t.ProjectID != "" && t.ProjectID != input.ProjectID {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "task project_id does not match path",
					map[string]any{"task_id": t.ID, "project_id": t.ProjectID})
			}
		}
		saved, err := h.repo.UpsertTasks(ctx, toDomainTasks(input.Body.Tasks, input.ProjectID))
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(saved)}, nil
	})
}

func registerValidation(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-tasks",
		Method:      http.MethodPost,
		Path:        "/validate",
		Summary:     "Validate a task sequence",
		Description: "Checks the supplied tasks against the phase rules. Nothing is stored.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ValidateRequest `json:"body"`
	}) (*struct {
		Body []domain.ValidationResult `json:"body"`
	}, error) {
		results := h.engine.ValidateTaskSequence(toDomainTasks(input.Body.Tasks, ""))
		return &struct {
			Body []domain.ValidationResult `json:"body"`
		}{Body: results}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/validation",
		Summary:     "Validate the stored task sequence of a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.ValidationResult `json:"body"`
	}, error) {
		if err := h.requireProject(ctx, input.ProjectID); err != nil {
			return nil, h.handleError(err)
		}
		results, err := h.engine.ValidateProject(ctx, input.ProjectID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.ValidationResult `json:"body"`
		}{Body: results}, nil
	})
}

func registerInspections(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "auto-schedule-inspections",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/inspections/auto-schedule",
		Summary:     "Schedule the inspections the project's tasks require",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body AutoScheduleResponse `json:"body"`
	}, error) {
		if err := h.requireProject(ctx, input.ProjectID); err != nil {
			return nil, h.handleError(err)
		}
		scheduled, err := h.engine.AutoScheduleInspections(ctx, input.ProjectID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body AutoScheduleResponse `json:"body"`
		}{Body: AutoScheduleResponse{ProjectID: input.ProjectID, Scheduled: scheduled}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-inspections",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/inspections",
		Summary:     "List inspection schedules",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
	}) (*struct {
		Body []domain.InspectionSchedule `json:"body"`
	}, error) {
		if err := h.requireProject(ctx, input.ProjectID); err != nil {
			return nil, h.handleError(err)
		}
		items, err := h.repo.ListInspectionSchedules(ctx, repo.InspectionFilters{ProjectID: input.ProjectID, Status: input.Status})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.InspectionSchedule `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-inspection",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/inspections/{inspection_id}",
		Summary:     "Update inspection status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID    string                  `path:"project_id"`
		InspectionID string                  `path:"inspection_id"`
		Body         UpdateInspectionRequest `json:"body"`
	}) (*struct {
		Body domain.InspectionSchedule `json:"body"`
	}, error) {
		if err := h.requireProject(ctx, input.ProjectID); err != nil {
			return nil, h.handleError(err)
		}
		updated, err := h.repo.UpdateInspectionStatus(ctx, input.ProjectID, input.InspectionID, input.Body.Status)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.InspectionSchedule `json:"body"`
		}{Body: updated}, nil
	})
}

func registerOptimization(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "optimize-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/optimization",
		Summary:     "Propose trade sequencing improvements",
		Description: "Advisory only: no task is changed.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.OptimizedSchedule `json:"body"`
	}, error) {
		if err := h.requireProject(ctx, input.ProjectID); err != nil {
			return nil, h.handleError(err)
		}
		out, err := h.engine.OptimizeTradeSequencing(ctx, input.ProjectID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.OptimizedSchedule `json:"body"`
		}{Body: out}, nil
	})
}

func registerConflicts(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "detect-conflicts",
		Method:      http.MethodGet,
		Path:        "/conflicts",
		Summary:     "Detect schedule conflicts",
		Description: "Scans every project when project_id is omitted.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []domain.ScheduleConflict `json:"body"`
	}, error) {
		if input.ProjectID != "" {
			if err := h.requireProject(ctx, input.ProjectID); err != nil {
				return nil, h.handleError(err)
			}
		}
		out, err := h.engine.DetectScheduleConflicts(ctx, input.ProjectID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.ScheduleConflict `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent project events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if err := h.requireProject(ctx, input.ProjectID); err != nil {
			return nil, h.handleError(err)
		}
		items, err := h.repo.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: nonNil(items)}, nil
	})
}
