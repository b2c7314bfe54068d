package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

// BuildMIME renders env as a multipart/related message: the HTML body first,
// then each inline part with its Content-ID.
func BuildMIME(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary("courier-" + strings.ReplaceAll(uuid.NewString(), "-", "")); err != nil {
		return nil, fmt.Errorf("set boundary: %w", err)
	}

	to := make([]string, len(env.To))
	for i, addr := range env.To {
		to[i] = sanitizeHeader(addr)
	}

	var head bytes.Buffer
	fmt.Fprintf(&head, "From: %s\r\n", sanitizeHeader(env.From))
	fmt.Fprintf(&head, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&head, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", sanitizeHeader(env.Subject)))
	head.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&head, "Content-Type: multipart/related; boundary=%q; type=\"text/html\"\r\n\r\n", w.Boundary())

	html, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	qp := quotedprintable.NewWriter(html)
	if _, err := qp.Write([]byte(env.HTML)); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}

	for _, part := range env.Inline {
		if part.ContentID == "" {
			return nil, fmt.Errorf("inline part %s has no content id", part.Filename)
		}
		contentType := part.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		disposition := "inline"
		if part.Filename != "" {
			disposition = mime.FormatMediaType("inline", map[string]string{"filename": part.Filename})
		}
		pw, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {contentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-ID":                {"<" + sanitizeHeader(part.ContentID) + ">"},
			"Content-Disposition":       {disposition},
		})
		if err != nil {
			return nil, fmt.Errorf("create inline part: %w", err)
		}
		if err := writeBase64(pw, part.Data); err != nil {
			return nil, fmt.Errorf("write inline part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	return append(head.Bytes(), buf.Bytes()...), nil
}

// writeBase64 writes data base64 encoded in 76 character lines.
func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	if len(encoded) == 0 {
		return nil
	}
	_, err := w.Write([]byte(encoded + "\r\n"))
	return err
}
