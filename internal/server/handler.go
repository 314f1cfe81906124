package server

import (
	"encoding/json"
	"net/http"
	"time"

	"splitmailer/internal/apperror"
	"splitmailer/internal/config"
	"splitmailer/internal/job"
	"splitmailer/internal/mailer"
	"splitmailer/internal/store"
)

const maxUploadMemory = 32 << 20

type handler struct {
	cfg    config.Config
	jobSvc *job.Service
	store  *store.Store
	dial   job.Dialer
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// defaults echoes the effective configuration so the UI can prefill its form.
func (h *handler) defaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"output_basename":   h.cfg.OutputBasename,
		"subject_prefix":    h.cfg.SubjectPrefix,
		"volume_size_mb":    h.cfg.VolumeSizeMB,
		"send_interval_sec": h.cfg.SendIntervalSec,
		"sender":            h.cfg.Sender,
		"recipients":        h.cfg.Recipients,
		"cc":                h.cfg.Cc,
		"smtp_host":         h.cfg.SMTP.Host,
		"smtp_port":         h.cfg.SMTP.Port,
		"smtp_username":     h.cfg.SMTP.Username,
		"smtp_use_ssl":      h.cfg.SMTP.UseSSL,
		"smtp_use_tls":      h.cfg.SMTP.UseTLS,
	})
}

type uploadResponse struct {
	Saved []string `json:"saved"`
	Count int      `json:"count"`
}

// upload stores the selected folder's files under uploads/<session_id>,
// preserving the client-supplied relative paths.
func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	session := r.FormValue("session_id")
	if session == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	files := r.MultipartForm.File["files"]
	paths := r.MultipartForm.Value["paths"]
	if len(files) != len(paths) {
		writeError(w, http.StatusBadRequest, "files and paths counts differ")
		return
	}

	saved := make([]string, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		rel, err := h.store.SaveUpload(session, paths[i], f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved = append(saved, rel)
	}

	writeJSON(w, http.StatusOK, uploadResponse{Saved: saved, Count: len(saved)})
}

type listResponse struct {
	Parts []store.Volume `json:"parts"`
	Total int64          `json:"total"`
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session_id")
	if session == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	parts, total, err := h.store.ListVolumes(session)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Parts: parts, Total: total})
}

type startResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	// Decode over the configuration defaults so omitted fields keep them.
	req := h.jobSvc.Defaults()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	j, appErr := h.jobSvc.Start(req)
	if appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}
	status, _ := j.Snapshot()
	writeJSON(w, http.StatusOK, startResponse{JobID: j.ID, Status: status})
}

func (h *handler) logs(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("job_id")
	resp, appErr := h.jobSvc.Status(id)
	if appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type testSMTPRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseSSL   bool   `json:"use_ssl"`
	UseTLS   bool   `json:"use_tls"`
}

// testSMTP performs connect + probe + quit synchronously against the given
// endpoint, independent of any job.
func (h *handler) testSMTP(w http.ResponseWriter, r *http.Request) {
	var req testSMTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}

	sess, err := h.dial(r.Context(), mailer.Options{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		UseSSL:   req.UseSSL,
		UseTLS:   req.UseTLS,
		Timeout:  time.Duration(h.cfg.SMTP.TimeoutSec) * time.Second,
	})
	if err != nil {
		probeErr := apperror.New(apperror.Unavailable, err.Error())
		writeError(w, probeErr.HTTPStatus(), probeErr.Message())
		return
	}
	if err := sess.Noop(); err != nil {
		_ = sess.Close()
		probeErr := apperror.New(apperror.Unavailable, err.Error())
		writeError(w, probeErr.HTTPStatus(), probeErr.Message())
		return
	}
	_ = sess.Quit()

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
