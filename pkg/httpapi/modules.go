package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stormstack/thunder/pkg/errs"
)

const maxModuleUploadMemory = 32 << 20 // 32MiB held in memory before spilling to temp files

func (h *handlers) uploadModule(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxModuleUploadMemory); err != nil {
		RespondError(w, errs.New(errs.KindInvalidArgument, "parsing multipart upload: %v", err))
		return
	}

	name := r.FormValue("name")
	version := r.FormValue("version")
	uploadedBy := r.FormValue("uploaded_by")
	if name == "" || version == "" {
		RespondError(w, errs.New(errs.KindInvalidArgument, "name and version are required"))
		return
	}

	file, header, err := r.FormFile("artifact")
	if err != nil {
		RespondError(w, errs.New(errs.KindInvalidArgument, "artifact file is required: %v", err))
		return
	}
	defer file.Close()

	m, err := h.deps.Modules.Upload(r.Context(), name, version, header.Filename, uploadedBy, file)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusCreated, m)
}

func (h *handlers) listModules(w http.ResponseWriter, r *http.Request) {
	Respond(w, http.StatusOK, h.deps.Modules.List())
}

func (h *handlers) getModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	m, err := h.deps.Modules.Get(name, version)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, m)
}

func (h *handlers) downloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")

	m, err := h.deps.Modules.Get(name, version)
	if err != nil {
		RespondError(w, err)
		return
	}

	rc, err := h.deps.Modules.Download(r.Context(), name, version)
	if err != nil {
		RespondError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", m.FileName))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn().Err(err).Str("module_name", name).Str("module_version", version).Msg("failed writing module download response")
	}
}

func (h *handlers) deleteModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	if err := h.deps.Modules.Delete(r.Context(), name, version); err != nil {
		RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) distributeModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")

	targets := make(map[string]string)
	for _, n := range h.deps.Nodes.ListHealthy() {
		targets[n.NodeID] = n.AdvertiseAddress
	}
	if len(targets) == 0 {
		RespondError(w, errs.New(errs.KindNoAvailableNodes, "no healthy nodes to distribute %s:%s to", name, version))
		return
	}

	succeeded, failed, err := h.deps.Modules.Distribute(r.Context(), name, version, targets)
	if err != nil {
		RespondError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{
		"succeeded": succeeded,
		"failed":    failed,
	})
}
