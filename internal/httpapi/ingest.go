package httpapi

import (
	"bufio"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/apierr"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/firewallid"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/jobs"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
)

const uploadMemoryLimit = 32 << 20 // multipart form buffer, not the file cap

// jobStatus is the JSON shape for every job-status read.
type jobStatus struct {
	JobID           string     `json:"job_id"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	Phase           string     `json:"phase,omitempty"`
	Progress        float64    `json:"progress"`
	Filename        string     `json:"filename,omitempty"`
	DeviceKey       string     `json:"device_key,omitempty"`
	LinesProcessed  int64      `json:"lines_processed"`
	RawLogsInserted int64      `json:"raw_logs_inserted"`
	EventsInserted  int64      `json:"events_inserted"`
	ParseOK         int64      `json:"parse_ok"`
	ParseErr        int64      `json:"parse_err"`
	FilteredID      int64      `json:"filtered_id"`
	TimeMin         *time.Time `json:"time_min,omitempty"`
	TimeMax         *time.Time `json:"time_max,omitempty"`
	ErrorType       string     `json:"error_type,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

func toJobStatus(j *store.JobRow) jobStatus {
	return jobStatus{
		JobID:           j.JobID,
		Kind:            j.Kind,
		Status:          j.Status,
		Phase:           j.Phase,
		Progress:        j.Progress,
		Filename:        j.Filename,
		DeviceKey:       j.DeviceKey,
		LinesProcessed:  j.LinesProcessed,
		RawLogsInserted: j.RawLogsInserted,
		EventsInserted:  j.EventsInserted,
		ParseOK:         j.ParseOK,
		ParseErr:        j.ParseErr,
		FilteredID:      j.FilteredID,
		TimeMin:         j.TimeMin,
		TimeMax:         j.TimeMax,
		ErrorType:       j.ErrorType,
		ErrorMessage:    j.ErrorMessage,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}
}

// Upload handles POST /api/ingest/upload: stage the multipart file under
// a temporary id, derive the device_key from the file's leading records
// (falling back to the `device` form field), then enqueue the import job
// and move the staged bytes to the job's path.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		h.fail(w, r, apierr.ValidationError("invalid multipart upload: "+err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, apierr.ValidationError(`multipart field "file" is required`))
		return
	}
	defer file.Close()

	stageID := "stage-" + uuid.NewString()
	size, err := h.importer.SaveUpload(stageID, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	deviceKey, err := h.resolveUploadDevice(stageID, r.FormValue("device"))
	if err != nil {
		_ = os.Remove(h.importer.StagePath(stageID))
		h.fail(w, r, err)
		return
	}

	jobID, err := h.jobs.Submit(r.Context(), jobs.KindImport, header.Filename, deviceKey)
	if err != nil {
		_ = os.Remove(h.importer.StagePath(stageID))
		h.fail(w, r, err)
		return
	}
	if err := os.Rename(h.importer.StagePath(stageID), h.importer.StagePath(jobID)); err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}

	h.requestLogger(r).InfoContext(r.Context(), "upload staged",
		logging.JobID(jobID), logging.DeviceKey(deviceKey))
	h.writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "job_id": jobID, "filename": header.Filename, "size_bytes": size,
	})
}

// resolveUploadDevice samples the staged file's leading record hostnames
// to derive the import device_key per C5.
func (h *Handler) resolveUploadDevice(jobID, formDevice string) (string, error) {
	f, err := os.Open(h.importer.StagePath(jobID))
	if err != nil {
		return "", apierr.Internal(err)
	}
	defer f.Close()

	hostnames := h.importer.SampleHostnames(bufio.NewReader(f), 20)
	return firewallid.DeviceKeyForImport(hostnames, formDevice), nil
}

// IngestJobs handles GET /api/ingest/jobs?state=&limit=.
func (h *Handler) IngestJobs(w http.ResponseWriter, r *http.Request) {
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	rows, err := h.jobs.List(r.Context(), "", state, intQuery(r, "limit", 50, 200))
	if err != nil {
		h.fail(w, r, apierr.Internal(err))
		return
	}
	out := make([]jobStatus, 0, len(rows))
	for _, j := range rows {
		out = append(out, toJobStatus(&j))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// UploadStatus handles GET /api/ingest/upload/status?job_id.
func (h *Handler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := requireQuery(r, "job_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.jobByID(w, r, jobID)
}

// MaintenanceJob handles GET /api/maintenance/jobs/{job_id}.
func (h *Handler) MaintenanceJob(w http.ResponseWriter, r *http.Request) {
	h.jobByID(w, r, r.PathValue("job_id"))
}

func (h *Handler) jobByID(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobs.Status(r.Context(), jobID)
	if err != nil || job == nil {
		h.fail(w, r, apierr.NotFound("job not found"))
		return
	}
	h.writeJSON(w, http.StatusOK, toJobStatus(job))
}

// CancelJob handles POST /api/ingest/jobs/{job_id}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if err := h.jobs.Cancel(r.Context(), jobID); err != nil {
		h.fail(w, r, apierr.NotFound("job not found or already terminal"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DeleteJob handles DELETE /api/ingest/jobs/{job_id}: remove a terminal row.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Delete(r.Context(), r.PathValue("job_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// TriggerCleanup handles POST /api/maintenance/cleanup: on-demand
// retention cleanup. Disabled retention reports {skipped: true}.
func (h *Handler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	snap, err := h.settings.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !snap.LogRetention.Enabled {
		h.writeJSON(w, http.StatusOK, map[string]bool{"skipped": true})
		return
	}
	jobID, err := h.jobs.Submit(r.Context(), jobs.KindCleanup, "", "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job_id": jobID})
}
