package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/apperr"
	"github.com/fleetd-io/fleetd/server/internal/job"
	"github.com/fleetd-io/fleetd/shared/types"
)

// UnitOpsHandler exposes job.Engine's unit-command surface over REST. Every
// route here is a thin Submit call — the response carries the new job's
// object path, not its outcome. Clients track completion via
// GET /jobs/{id} or the unit:<node>/<unit> WebSocket topic.
type UnitOpsHandler struct {
	jobs   *job.Engine
	logger *zap.Logger
}

// NewUnitOpsHandler creates a new UnitOpsHandler.
func NewUnitOpsHandler(jobs *job.Engine, logger *zap.Logger) *UnitOpsHandler {
	return &UnitOpsHandler{
		jobs:   jobs,
		logger: logger.Named("unit_ops_handler"),
	}
}

// unitOpRequest is the optional JSON body accepted by every unit-op route.
// Mode defaults to "replace" (systemd's own default) when omitted or when
// the request carries no body at all.
type unitOpRequest struct {
	Mode       string            `json:"mode,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// jobSubmitResponse is returned by every unit-op route on success.
type jobSubmitResponse struct {
	ObjectPath string `json:"object_path"`
}

func (h *UnitOpsHandler) submit(w http.ResponseWriter, r *http.Request, jobType types.JobType, nodeName, unit string) {
	req := unitOpRequest{Mode: "replace"}
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Mode == "" {
			req.Mode = "replace"
		}
	}

	objectPath, err := h.jobs.Submit(jobType, nodeName, unit, req.Mode, req.Properties)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	Created(w, jobSubmitResponse{ObjectPath: objectPath})
}

func (h *UnitOpsHandler) writeSubmitError(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok && appErr.Code == apperr.CodeOffline {
		ErrConflict(w, appErr.Message)
		return
	}
	h.logger.Error("job submission failed", zap.Error(err))
	ErrInternal(w)
}

// Start handles POST /nodes/{name}/units/{unit}/start.
func (h *UnitOpsHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeStartUnit, chi.URLParam(r, "name"), chi.URLParam(r, "unit"))
}

// Stop handles POST /nodes/{name}/units/{unit}/stop.
func (h *UnitOpsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeStopUnit, chi.URLParam(r, "name"), chi.URLParam(r, "unit"))
}

// Restart handles POST /nodes/{name}/units/{unit}/restart.
func (h *UnitOpsHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeRestartUnit, chi.URLParam(r, "name"), chi.URLParam(r, "unit"))
}

// Reload handles POST /nodes/{name}/units/{unit}/reload.
func (h *UnitOpsHandler) Reload(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeReloadUnit, chi.URLParam(r, "name"), chi.URLParam(r, "unit"))
}

// Freeze handles POST /nodes/{name}/units/{unit}/freeze.
func (h *UnitOpsHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeFreezeUnit, chi.URLParam(r, "name"), chi.URLParam(r, "unit"))
}

// Thaw handles POST /nodes/{name}/units/{unit}/thaw.
func (h *UnitOpsHandler) Thaw(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeThawUnit, chi.URLParam(r, "name"), chi.URLParam(r, "unit"))
}

// Enable handles POST /nodes/{name}/units/{unit}/enable.
func (h *UnitOpsHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeEnable, chi.URLParam(r, "name"), chi.URLParam(r, "unit"))
}

// Disable handles POST /nodes/{name}/units/{unit}/disable.
func (h *UnitOpsHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeDisable, chi.URLParam(r, "name"), chi.URLParam(r, "unit"))
}

// DaemonReload handles POST /nodes/{name}/reload. It carries no unit — it
// reloads the target node's systemd manager configuration.
func (h *UnitOpsHandler) DaemonReload(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeDaemonReload, chi.URLParam(r, "name"), "")
}

// Isolate handles POST /isolate. It fans an isolate-all job out across the
// whole fleet rather than one node, so job.Engine.Submit skips its usual
// node-online precondition for this job type.
func (h *UnitOpsHandler) Isolate(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, types.JobTypeIsolateAll, "", "")
}
