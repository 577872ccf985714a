// Package mimemsg builds RFC 2822 multipart/alternative messages in the
// shape the provider's raw-send endpoint expects.
package mimemsg

import (
	"encoding/base64"
	"fmt"
	"html"
	"mime/quotedprintable"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message describes one outbound email to build. HTMLBody is required;
// TextBody is derived from it when empty.
type Message struct {
	From       string
	FromName   string
	To         string
	ToName     string
	Cc         string
	Bcc        string
	ReplyTo    string
	Subject    string
	HTMLBody   string
	TextBody   string
	InReplyTo  string
	References string

	// TrackingID plus TrackingBaseURL enable open-tracking pixel injection.
	TrackingID      string
	TrackingBaseURL string

	// Date defaults to time.Now when zero.
	Date time.Time
}

var (
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	fieldPattern     = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)
	closeBodyPattern = regexp.MustCompile(`(?i)</body>`)
)

// MergeFields substitutes {{field}} placeholders from a flat key-value map.
// Unresolved placeholders are left intact so missing data stays visible.
func MergeFields(s string, data map[string]string) string {
	if len(data) == 0 {
		return s
	}
	return fieldPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := fieldPattern.FindStringSubmatch(match)[1]
		if val, ok := data[key]; ok {
			return val
		}
		return match
	})
}

// HTMLToText derives a plain-text alternative by stripping tags and
// entities and collapsing whitespace.
func HTMLToText(htmlBody string) string {
	text := tagPattern.ReplaceAllString(htmlBody, " ")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}

// TrackingPixelURL returns the open-tracking URL for a tracking id.
func TrackingPixelURL(baseURL, trackingID string) string {
	return fmt.Sprintf("%s/track/open/%s.png", strings.TrimRight(baseURL, "/"), trackingID)
}

// InjectTrackingPixel places a 1x1 pixel immediately before the closing
// body tag, or appends it when the HTML has no body tag.
func InjectTrackingPixel(htmlBody, pixelURL string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt=""/>`, pixelURL)
	if loc := closeBodyPattern.FindStringIndex(htmlBody); loc != nil {
		return htmlBody[:loc[0]] + pixel + htmlBody[loc[0]:]
	}
	return htmlBody + pixel
}

// Build renders the full message: headers, then quoted-printable encoded
// plain and HTML parts inside a multipart/alternative envelope.
func (m *Message) Build() (string, error) {
	if m.To == "" {
		return "", fmt.Errorf("message has no recipient")
	}
	if m.From == "" {
		return "", fmt.Errorf("message has no sender")
	}

	htmlBody := m.HTMLBody
	if m.TrackingID != "" && m.TrackingBaseURL != "" {
		htmlBody = InjectTrackingPixel(htmlBody, TrackingPixelURL(m.TrackingBaseURL, m.TrackingID))
	}

	textBody := m.TextBody
	if textBody == "" {
		textBody = HTMLToText(m.HTMLBody)
	}

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	references := m.References
	if references == "" && m.InReplyTo != "" {
		// Default to the replied-to id so clients keep the thread together.
		references = m.InReplyTo
	}

	var buf strings.Builder
	boundary := fmt.Sprintf("=_mp_%s", uuid.NewString())

	buf.WriteString(fmt.Sprintf("From: %s\r\n", formatAddress(m.FromName, m.From)))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", formatAddress(m.ToName, m.To)))
	if m.Cc != "" {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", m.Cc))
	}
	if m.Bcc != "" {
		buf.WriteString(fmt.Sprintf("Bcc: %s\r\n", m.Bcc))
	}
	if m.ReplyTo != "" {
		buf.WriteString(fmt.Sprintf("Reply-To: %s\r\n", m.ReplyTo))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", encodeHeader(m.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", date.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@mailpilot>\r\n", uuid.NewString()))
	if m.InReplyTo != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", m.InReplyTo))
	}
	if references != "" {
		buf.WriteString(fmt.Sprintf("References: %s\r\n", references))
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary))

	plain, err := encodeQuotedPrintable(textBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode text part: %w", err)
	}
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	buf.WriteString(plain)
	buf.WriteString("\r\n")

	rich, err := encodeQuotedPrintable(htmlBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode html part: %w", err)
	}
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	buf.WriteString(rich)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.String(), nil
}

// EncodeRaw base64url-encodes a built message for the provider's raw field.
func EncodeRaw(message string) string {
	return base64.URLEncoding.EncodeToString([]byte(message))
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", encodeHeader(name), email)
}

// encodeHeader RFC 2047-encodes a header value when it has non-ASCII bytes
func encodeHeader(s string) string {
	for _, r := range s {
		if r > 127 {
			return fmt.Sprintf("=?utf-8?B?%s?=", base64.StdEncoding.EncodeToString([]byte(s)))
		}
	}
	return s
}

func encodeQuotedPrintable(s string) (string, error) {
	var buf strings.Builder
	w := quotedprintable.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
