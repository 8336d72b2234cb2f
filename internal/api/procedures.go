// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/mongate/internal/platform/apperr"
	"github.com/taibuivan/mongate/internal/platform/ctxutil"
	"github.com/taibuivan/mongate/internal/platform/middleware"
	"github.com/taibuivan/mongate/internal/platform/respond"
)

// # Procedure Handler

// ProcedureHandler serves the declarative multi-step procedure surface.
type ProcedureHandler struct {
	deps *Deps
}

// NewProcedureHandler constructs the procedure handler.
func NewProcedureHandler(deps *Deps) *ProcedureHandler {
	return &ProcedureHandler{deps: deps}
}

// Routes mounts the procedure surface. Dispatch is by name so that hot
// reload can add procedures without re-mounting routes.
func (h *ProcedureHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Get("/", h.listProcedures)
	router.HandleFunc("/{name}", h.invoke)
	return router
}

// listProcedures handles GET /functions.
func (h *ProcedureHandler) listProcedures(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()

	snapshot := h.deps.Registry.Snapshot()
	summaries := make([]map[string]any, 0, len(snapshot.Procedures))
	for _, descriptor := range snapshot.Procedures {
		summaries = append(summaries, map[string]any{
			"name":     descriptor.Name,
			"method":   descriptor.Method,
			"endpoint": descriptor.Endpoint,
			"steps":    len(descriptor.Steps),
		})
	}
	respond.OK(writer, summaries, respond.NewMeta(start))
}

// invoke handles <METHOD> /functions/{name}.
func (h *ProcedureHandler) invoke(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	name := chi.URLParam(request, "name")

	descriptor, ok := h.deps.Registry.GetProcedure(name)
	if !ok {
		respond.Error(writer, request, apperr.NotFound("Procedure", name))
		return
	}

	// The descriptor owns its method; anything else is a mismatch.
	if request.Method != descriptor.Method {
		respond.Error(writer, request, apperr.MethodMismatch(request.Method, "execute", descriptor.Method))
		return
	}

	set := middleware.PermissionSetFor(request)
	if err := middleware.AuthorizeProcedure(set, descriptor); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// Procedure-level rate limit falls back to the caller's role ceiling.
	subject := middleware.SubjectFor(request)
	limit := h.deps.RoleLimits[string(set.Role)]
	if descriptor.RateLimits != nil {
		limit = limitFromDescriptor(*descriptor.RateLimits)
	}
	if allowed, retryAfter, err := h.deps.Limiter.Allow(request.Context(), subject+":proc:"+name, limit); err != nil {
		respond.Error(writer, request, apperr.Internal(err))
		return
	} else if !allowed {
		seconds := int(retryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		writer.Header().Set("Retry-After", strconv.Itoa(seconds))
		respond.Error(writer, request, apperr.RateLimited(seconds))
		return
	}

	params := h.gatherParams(request)

	if fields, err := h.deps.Registry.ValidateProcedureInput(name, params); err != nil {
		respond.Error(writer, request, apperr.Internal(err))
		return
	} else if len(fields) > 0 {
		respond.Error(writer, request, apperr.SchemaValidation("Procedure input failed validation", fields...))
		return
	}

	user := map[string]any{"role": string(set.Role)}
	if claims := ctxutil.GetAuthUser(request.Context()); claims != nil {
		user["subject"] = claims.Subject
	}

	output, execCtx, err := h.deps.Executor.Execute(request.Context(), descriptor, params, user)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	meta := respond.NewMeta(start)
	meta.Warnings = execCtx.Warnings
	respond.OK(writer, output, meta)
}

// gatherParams merges query parameters with the JSON body; body keys win.
func (h *ProcedureHandler) gatherParams(request *http.Request) map[string]any {
	params := map[string]any{}

	for key, values := range request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	if request.Body != nil {
		var body map[string]any
		if err := json.NewDecoder(request.Body).Decode(&body); err == nil {
			for key, value := range body {
				params[key] = value
			}
		}
	}

	return params
}
