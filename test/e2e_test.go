package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"splitmailer/internal/archive"
	"splitmailer/internal/config"
	"splitmailer/internal/job"
	"splitmailer/internal/mailer"
	"splitmailer/internal/server"
	"splitmailer/internal/store"
)

// mtaBackend is an in-process SMTP server that records everything delivered
// to it.
type mtaBackend struct {
	mu       sync.Mutex
	messages []mtaMessage
}

type mtaMessage struct {
	from  string
	rcpts []string
	data  string
}

func (b *mtaBackend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &mtaSession{backend: b}, nil
}

func (b *mtaBackend) delivered() []mtaMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]mtaMessage(nil), b.messages...)
}

type mtaSession struct {
	backend *mtaBackend
	from    string
	rcpts   []string
}

func (s *mtaSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *mtaSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *mtaSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, mtaMessage{from: s.from, rcpts: s.rcpts, data: string(data)})
	s.backend.mu.Unlock()
	return nil
}

func (s *mtaSession) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *mtaSession) Logout() error { return nil }

func startMTA(t *testing.T) (*mtaBackend, int) {
	t.Helper()
	backend := &mtaBackend{}
	srv := gosmtp.NewServer(backend)
	srv.Domain = "localhost"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return backend, ln.Addr().(*net.TCPAddr).Port
}

// fakeArchiverScript stands in for 7zz: it emits progress output and writes
// three volumes next to the archive path it receives as argv position 5.
func fakeArchiverScript(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "7zz")
	script := `#!/bin/sh
echo "Scanning the drive:"
printf 'volume-one-data' > "$5.001"
printf 'volume-two-data' > "$5.002"
printf 'tail' > "$5.003"
echo "Everything is Ok"
`
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin
}

func setupE2E(t *testing.T, smtpPort int) *httptest.Server {
	t.Helper()

	cfg := config.Config{
		OutputBasename:  "mydata",
		SubjectPrefix:   "Archive transfer",
		VolumeSizeMB:    20,
		SendIntervalSec: 0,
	}
	cfg.SMTP.Host = "127.0.0.1"
	cfg.SMTP.Port = smtpPort
	cfg.SMTP.TimeoutSec = 5

	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	bin := fakeArchiverScript(t)
	splitter := &archive.Splitter{Resolve: func() (string, error) { return bin, nil }}

	jobSvc := job.NewService(context.Background(), cfg, st, splitter, mailer.Dial)
	ts := httptest.NewServer(server.NewHandler(cfg, jobSvc, st, mailer.Dial))
	t.Cleanup(ts.Close)
	return ts
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func uploadFolder(t *testing.T, baseURL, session string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("session_id", session)
	for path, content := range map[string]string{
		"project/readme.md":  "hello",
		"project/data/a.bin": strings.Repeat("x", 4096),
		"project/data/b.bin": strings.Repeat("y", 4096),
	} {
		fw, err := mw.CreateFormFile("files", path)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
		_ = mw.WriteField("paths", path)
	}
	_ = mw.Close()

	resp, err := http.Post(baseURL+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var up struct {
		Count int `json:"count"`
	}
	decodeData(t, resp, &up)
	if up.Count != 3 {
		t.Fatalf("uploaded %d files, want 3", up.Count)
	}
}

func TestE2E_UploadSplitAndMail(t *testing.T) {
	backend, smtpPort := startMTA(t)
	ts := setupE2E(t, smtpPort)

	uploadFolder(t, ts.URL, "sess-e2e")

	// Start the job.
	startBody := strings.NewReader(`{"session_id":"sess-e2e","recipients":"to@example.com","cc":"cc@example.com"}`)
	resp, err := http.Post(ts.URL+"/api/start", "application/json", startBody)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var started struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	decodeData(t, resp, &started)
	if started.JobID == "" {
		t.Fatal("no job id")
	}

	// Poll until terminal.
	var status struct {
		Status string   `json:"status"`
		Logs   []string `json:"logs"`
	}
	deadline := time.After(10 * time.Second)
	for status.Status != "done" && status.Status != "error" {
		select {
		case <-deadline:
			t.Fatalf("job stuck, last status %q, logs:\n%s", status.Status, strings.Join(status.Logs, "\n"))
		case <-time.After(25 * time.Millisecond):
		}
		resp, err := http.Get(ts.URL + "/api/logs?job_id=" + started.JobID)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		decodeData(t, resp, &status)
	}
	if status.Status != "done" {
		t.Fatalf("job failed, logs:\n%s", strings.Join(status.Logs, "\n"))
	}

	// Three messages, ordered subjects, to + cc on each envelope.
	msgs := backend.delivered()
	if len(msgs) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		want := fmt.Sprintf("(Part %d/3)", i+1)
		if !strings.Contains(m.data, want) {
			t.Errorf("message %d does not carry subject marker %q", i, want)
		}
		if len(m.rcpts) != 2 {
			t.Errorf("message %d recipients = %v", i, m.rcpts)
		}
		if !strings.Contains(m.data, fmt.Sprintf("mydata.7z.%03d", i+1)) {
			t.Errorf("message %d does not name its volume", i)
		}
	}

	// The listing shows exactly this run's volumes.
	resp, err = http.Get(ts.URL + "/api/list?session_id=sess-e2e")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listing struct {
		Parts []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
		} `json:"parts"`
		Total int64 `json:"total"`
	}
	decodeData(t, resp, &listing)
	if len(listing.Parts) != 3 {
		t.Fatalf("listed %d parts, want 3", len(listing.Parts))
	}
	if listing.Parts[0].Name != "mydata.7z.001" {
		t.Errorf("first part = %q", listing.Parts[0].Name)
	}
	if listing.Total == 0 {
		t.Error("total size is zero")
	}
}

func TestE2E_TestSMTPEndpoint(t *testing.T) {
	_, smtpPort := startMTA(t)
	ts := setupE2E(t, smtpPort)

	body := fmt.Sprintf(`{"host":"127.0.0.1","port":%d}`, smtpPort)
	resp, err := http.Post(ts.URL+"/api/test-smtp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("test-smtp: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
	}
}

func TestE2E_PreflightFailureLeavesNoVolumes(t *testing.T) {
	// No MTA listening: reserve a port and close it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadPort := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	ts := setupE2E(t, deadPort)
	uploadFolder(t, ts.URL, "sess-dead")

	resp, err := http.Post(ts.URL+"/api/start", "application/json",
		strings.NewReader(`{"session_id":"sess-dead","recipients":"to@example.com"}`))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var started struct {
		JobID string `json:"job_id"`
	}
	decodeData(t, resp, &started)

	var status struct {
		Status string   `json:"status"`
		Logs   []string `json:"logs"`
	}
	deadline := time.After(10 * time.Second)
	for status.Status != "done" && status.Status != "error" {
		select {
		case <-deadline:
			t.Fatal("job stuck")
		case <-time.After(25 * time.Millisecond):
		}
		resp, err := http.Get(ts.URL + "/api/logs?job_id=" + started.JobID)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		decodeData(t, resp, &status)
	}
	if status.Status != "error" {
		t.Fatalf("status = %q, want error", status.Status)
	}

	// The archiver never ran, so the session has no output volumes.
	resp, err = http.Get(ts.URL + "/api/list?session_id=sess-dead")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listing struct {
		Parts []any `json:"parts"`
	}
	decodeData(t, resp, &listing)
	if len(listing.Parts) != 0 {
		t.Errorf("found %d volumes after failed pre-flight", len(listing.Parts))
	}
}
