package mailer

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"
)

// Attachment is a file attached to an outgoing message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is an outgoing mail with one plain-text body part and one binary
// attachment part. The envelope recipient set is To plus Cc regardless of
// header rendering.
type Message struct {
	From       string
	To         []string
	Cc         []string
	Subject    string
	Body       string
	Attachment Attachment
}

func (m *Message) Recipients() []string {
	rcpts := make([]string, 0, len(m.To)+len(m.Cc))
	rcpts = append(rcpts, m.To...)
	rcpts = append(rcpts, m.Cc...)
	return rcpts
}

// Render writes the full RFC 2045 message. The subject is Q-encoded when it
// contains non-ASCII text; the attachment travels as wrapped base64.
func (m *Message) Render(w io.Writer) error {
	mw := multipart.NewWriter(w)

	headers := []string{
		"From: " + m.From,
		"To: " + strings.Join(m.To, ", "),
	}
	if len(m.Cc) > 0 {
		headers = append(headers, "Cc: "+strings.Join(m.Cc, ", "))
	}
	headers = append(headers,
		"Subject: "+mime.QEncoding.Encode("utf-8", m.Subject),
		"Date: "+time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="`+mw.Boundary()+`"`,
	)
	for _, h := range headers {
		if _, err := fmt.Fprintf(w, "%s\r\n", h); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(text, m.Body); err != nil {
		return err
	}

	bin, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"application/octet-stream"},
		"Content-Disposition":       {fmt.Sprintf(`attachment; filename=%q`, m.Attachment.Filename)},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return err
	}
	if err := writeBase64(bin, m.Attachment.Content); err != nil {
		return err
	}

	return mw.Close()
}

// writeBase64 emits base64 wrapped at 76 columns per RFC 2045.
func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 0 {
		n := min(76, len(enc))
		if _, err := fmt.Fprintf(w, "%s\r\n", enc[:n]); err != nil {
			return err
		}
		enc = enc[n:]
	}
	return nil
}
