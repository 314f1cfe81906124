package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"splitmailer/internal/apperror"
	"splitmailer/internal/config"
	"splitmailer/internal/mailaddr"
	"splitmailer/internal/mailer"
	"splitmailer/internal/store"
)

// Archiver produces ordered volume paths from a source tree.
type Archiver interface {
	Split(ctx context.Context, sourceDir, outDir, basename string, volumeSizeMB int, logLine func(string)) ([]string, error)
}

// Dialer opens an SMTP session; mailer.Dial satisfies it.
type Dialer func(ctx context.Context, opts mailer.Options) (mailer.Session, error)

// Service owns the job registry and executes the pipeline: SMTP pre-flight,
// archive split, then send-with-throttle. One goroutine per job with no bound
// on concurrency — acceptable for human-triggered usage, noted as a scaling
// limit.
type Service struct {
	cfg      config.Config
	registry *Registry
	store    *store.Store
	archiver Archiver
	dial     Dialer
	baseCtx  context.Context
}

// NewService wires the pipeline collaborators. baseCtx is the process root
// context: jobs are not individually cancellable and run until completion or
// process exit.
func NewService(baseCtx context.Context, cfg config.Config, st *store.Store, archiver Archiver, dial Dialer) *Service {
	return &Service{
		cfg:      cfg,
		registry: NewRegistry(),
		store:    st,
		archiver: archiver,
		dial:     dial,
		baseCtx:  baseCtx,
	}
}

// Defaults returns a StartRequest pre-filled from configuration; handlers
// decode the request body over it so omitted fields keep their defaults.
func (s *Service) Defaults() StartRequest {
	return StartRequest{
		OutputBasename:  s.cfg.OutputBasename,
		SubjectPrefix:   s.cfg.SubjectPrefix,
		VolumeSizeMB:    s.cfg.VolumeSizeMB,
		SendIntervalSec: s.cfg.SendIntervalSec,
		Sender:          s.cfg.Sender,
		Recipients:      s.cfg.Recipients,
		Cc:              s.cfg.Cc,
	}
}

// Start creates a job record and launches its pipeline in the background.
// It returns immediately; callers poll Status for progress.
func (s *Service) Start(req StartRequest) (*Job, *apperror.AppError) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// Malformed recipient syntax is rejected synchronously; no job record is
	// created. Emptiness of the To list is checked inside the pipeline.
	if _, err := mailaddr.Parse(req.Recipients); err != nil {
		return nil, apperror.New(apperror.BadRequest, err.Error())
	}
	if _, err := mailaddr.Parse(req.Cc); err != nil {
		return nil, apperror.New(apperror.BadRequest, "cc: "+err.Error())
	}
	j := s.registry.Create()
	go s.run(j, req)
	return j, nil
}

// Status returns the job's status and its most recent log lines.
func (s *Service) Status(id string) (*StatusResponse, *apperror.AppError) {
	j, ok := s.registry.Get(id)
	if !ok {
		return nil, apperror.New(apperror.NotFound, "job not found")
	}
	status, logs := j.Snapshot()
	return &StatusResponse{Status: status, Logs: logs}, nil
}

func (s *Service) run(j *Job, req StartRequest) {
	j.setStatus(StatusRunning)
	j.Logf("job started")

	if err := s.pipeline(s.baseCtx, j, req); err != nil {
		j.Errorf("%v", err)
		j.setStatus(StatusError)
		return
	}
	j.setStatus(StatusDone)
}

func (s *Service) pipeline(ctx context.Context, j *Job, req StartRequest) error {
	opts, err := s.smtpOptions(req)
	if err != nil {
		return err
	}

	// Pre-flight probe: fail before any compression work when delivery is
	// impossible.
	j.Logf("checking SMTP connectivity to %s:%d", opts.Host, opts.Port)
	probe, err := s.dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("smtp pre-flight: %w", err)
	}
	if err := probe.Noop(); err != nil {
		_ = probe.Close()
		return fmt.Errorf("smtp pre-flight probe: %w", err)
	}
	_ = probe.Quit()

	srcDir, err := s.store.UploadDir(req.SessionID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(srcDir); err != nil {
		return errors.New("upload directory not found; upload a folder first")
	}
	outDir, err := s.store.OutputDir(req.SessionID)
	if err != nil {
		return err
	}

	basename := strings.TrimSpace(req.OutputBasename)
	if basename == "" {
		basename = s.cfg.OutputBasename
	}
	volSize := max(req.VolumeSizeMB, 1)

	j.Logf("compressing source folder")
	volumes, err := s.archiver.Split(ctx, srcDir, outDir, basename, volSize, func(line string) {
		j.Logf("%s", line)
	})
	if err != nil {
		return err
	}
	j.Logf("compression finished, %d volumes", len(volumes))

	sess, err := s.dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("smtp connect: %w", err)
	}
	defer func() { _ = sess.Close() }()

	toList, err := mailaddr.Parse(req.Recipients)
	if err != nil {
		return fmt.Errorf("recipients: %w", err)
	}
	ccList, err := mailaddr.Parse(req.Cc)
	if err != nil {
		return fmt.Errorf("cc: %w", err)
	}
	if len(toList) == 0 {
		return errors.New("recipient list is empty")
	}

	prefix := strings.TrimSpace(req.SubjectPrefix)
	if prefix == "" {
		prefix = s.cfg.SubjectPrefix
	}
	sender := s.sender(req, opts)

	interval := max(req.SendIntervalSec, 0)
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(time.Duration(interval) * time.Second)
	}
	limiter := rate.NewLimiter(limit, 1)

	total := len(volumes)
	j.Logf("sending %d volumes to %d recipients", total, len(toList)+len(ccList))
	for i, vol := range volumes {
		if i > 0 && interval > 0 {
			j.Logf("waiting %ds before next send", interval)
		}
		// Blocking wait local to this job's goroutine; spaces sends at
		// least interval apart to stay under provider rate limits.
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send throttle: %w", err)
		}

		name := filepath.Base(vol)
		content, err := os.ReadFile(vol)
		if err != nil {
			return fmt.Errorf("read volume %s: %w", name, err)
		}
		msg := &mailer.Message{
			From:       sender,
			To:         toList,
			Cc:         ccList,
			Subject:    fmt.Sprintf("%s - %s (Part %d/%d)", prefix, basename, i+1, total),
			Body:       fmt.Sprintf("Please find attached archive volume %d/%d: %s", i+1, total, name),
			Attachment: mailer.Attachment{Filename: name, Content: content},
		}
		if err := sess.Send(msg); err != nil {
			return fmt.Errorf("send part %d/%d: %w", i+1, total, err)
		}
		j.Logf("sent part %d/%d", i+1, total)
	}

	_ = sess.Quit()
	j.Logf("all volumes sent")
	return nil
}

// smtpOptions resolves the effective SMTP parameters: request overrides take
// precedence over process configuration.
func (s *Service) smtpOptions(req StartRequest) (mailer.Options, error) {
	opts := mailer.Options{
		Host:     s.cfg.SMTP.Host,
		Port:     s.cfg.SMTP.Port,
		Username: s.cfg.SMTP.Username,
		Password: s.cfg.SMTP.Password,
		UseSSL:   s.cfg.SMTP.UseSSL,
		UseTLS:   s.cfg.SMTP.UseTLS,
		Timeout:  time.Duration(s.cfg.SMTP.TimeoutSec) * time.Second,
	}
	if req.SMTPHost != nil {
		opts.Host = *req.SMTPHost
	}
	if req.SMTPPort != nil {
		opts.Port = *req.SMTPPort
	}
	if req.SMTPUsername != nil {
		opts.Username = *req.SMTPUsername
	}
	if req.SMTPPassword != nil {
		opts.Password = *req.SMTPPassword
	}
	if req.SMTPUseSSL != nil {
		opts.UseSSL = *req.SMTPUseSSL
	}
	if req.SMTPUseTLS != nil {
		opts.UseTLS = *req.SMTPUseTLS
	}
	if opts.Host == "" {
		return mailer.Options{}, errors.New("smtp host is not configured")
	}
	return opts, nil
}

func (s *Service) sender(req StartRequest, opts mailer.Options) string {
	if req.Sender != "" {
		return req.Sender
	}
	if opts.Username != "" {
		return opts.Username
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "no-reply@" + host
}
