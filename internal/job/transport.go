package job

import "splitmailer/internal/apperror"

// StartRequest carries the pipeline parameters. Absent JSON fields keep the
// configuration-sourced defaults the request is decoded over; the SMTP
// override pointers fall back to process configuration when nil.
type StartRequest struct {
	SessionID       string `json:"session_id"`
	OutputBasename  string `json:"output_basename"`
	SubjectPrefix   string `json:"subject_prefix"`
	VolumeSizeMB    int    `json:"volume_size_mb"`
	SendIntervalSec int    `json:"send_interval_sec"`
	Sender          string `json:"sender"`
	Recipients      string `json:"recipients"`
	Cc              string `json:"cc"`

	SMTPHost     *string `json:"smtp_host,omitempty"`
	SMTPPort     *int    `json:"smtp_port,omitempty"`
	SMTPUsername *string `json:"smtp_username,omitempty"`
	SMTPPassword *string `json:"smtp_password,omitempty"`
	SMTPUseSSL   *bool   `json:"smtp_use_ssl,omitempty"`
	SMTPUseTLS   *bool   `json:"smtp_use_tls,omitempty"`
}

func (r StartRequest) Validate() *apperror.AppError {
	if r.SessionID == "" {
		return apperror.New(apperror.BadRequest, "session_id is required")
	}
	return nil
}

// StatusResponse is what pollers receive: terminal-or-not status plus the
// most recent log lines.
type StatusResponse struct {
	Status Status   `json:"status"`
	Logs   []string `json:"logs"`
}
