package imap

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/ytsclub/sophbot/internal/relay"
)

// decodeMessage extracts the readable body of an RFC 822 message and counts
// its attachments. Plain text wins over HTML.
func decodeMessage(raw []byte) (string, int) {
	if len(raw) == 0 {
		return "", 0
	}
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(string(raw)), 0
	}
	mediaType, params, _ := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	body, err := readAllLimited(parsed.Body, maxMessageBytes)
	if err != nil {
		return "", 0
	}
	if strings.HasPrefix(strings.ToLower(mediaType), "multipart/") {
		return decodeMultipart(body, params["boundary"])
	}
	if decoded, err := decodeTransfer(bytes.NewReader(body), parsed.Header.Get("Content-Transfer-Encoding")); err == nil {
		body = decoded
	}
	if strings.EqualFold(mediaType, "text/html") {
		return htmlText(string(body)), 0
	}
	return strings.TrimSpace(string(body)), 0
}

func decodeMultipart(raw []byte, boundary string) (string, int) {
	if strings.TrimSpace(boundary) == "" {
		return strings.TrimSpace(string(raw)), 0
	}
	var plain, htmlParts []string
	attachments := 0

	r := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		part, err := r.NextPart()
		if err != nil {
			break
		}
		data, err := readAllLimited(part, maxMessageBytes)
		if err != nil {
			continue
		}
		mediaType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		mediaType = strings.ToLower(mediaType)
		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if strings.EqualFold(disposition, "attachment") {
			attachments++
			continue
		}
		if strings.HasPrefix(mediaType, "multipart/") {
			// multipart/alternative nested in multipart/mixed.
			text, n := decodeMultipart(data, params["boundary"])
			attachments += n
			if text != "" {
				plain = append(plain, text)
			}
			continue
		}
		if decoded, err := decodeTransfer(bytes.NewReader(data), part.Header.Get("Content-Transfer-Encoding")); err == nil {
			data = decoded
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		switch mediaType {
		case "text/plain", "":
			plain = append(plain, text)
		case "text/html":
			htmlParts = append(htmlParts, text)
		}
	}

	if len(plain) > 0 {
		return strings.Join(plain, "\n\n"), attachments
	}
	if len(htmlParts) > 0 {
		return htmlText(strings.Join(htmlParts, "\n\n")), attachments
	}
	return "", attachments
}

func decodeTransfer(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return readAllLimited(base64.NewDecoder(base64.StdEncoding, r), maxMessageBytes)
	case "quoted-printable":
		return readAllLimited(quotedprintable.NewReader(r), maxMessageBytes)
	default:
		return readAllLimited(r, maxMessageBytes)
	}
}

func htmlText(s string) string {
	return strings.TrimSpace(html.UnescapeString(relay.StripHTML(s)))
}

func readAllLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("message exceeds %d bytes", max)
	}
	return data, nil
}
