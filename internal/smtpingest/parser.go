package smtpingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// ParsedEmail is a forwarded notice decoded from its MIME envelope
type ParsedEmail struct {
	MessageID   string
	InReplyTo   string
	References  []string
	SenderEmail string
	SenderName  string
	Subject     string
	Snippet     string
	BodyText    string
	BodyHTML    string
	SentAt      *time.Time
	Attachments []ParsedAttachment
}

// ParsedAttachment is one attachment of a parsed email
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Content     io.Reader
	Size        int64
}

// ParseEmail parses an email from an io.Reader
func ParseEmail(r io.Reader) (*ParsedEmail, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedEmail{
		MessageID: strings.Trim(env.GetHeader("Message-Id"), "<> "),
		InReplyTo: strings.Trim(env.GetHeader("In-Reply-To"), "<> "),
		Subject:   env.GetHeader("Subject"),
		BodyText:  env.Text,
		BodyHTML:  env.HTML,
	}

	for _, ref := range strings.Fields(env.GetHeader("References")) {
		if id := strings.Trim(ref, "<> "); id != "" {
			parsed.References = append(parsed.References, id)
		}
	}

	if date := env.GetHeader("Date"); date != "" {
		if ts, err := mail.ParseDate(date); err == nil {
			parsed.SentAt = &ts
		}
	}

	parsed.SenderName, parsed.SenderEmail = parseFromHeader(env.GetHeader("From"))
	parsed.Snippet = generateSnippet(parsed.BodyText, parsed.BodyHTML)

	for _, att := range env.Attachments {
		parsed.Attachments = append(parsed.Attachments, ParsedAttachment{
			Filename:    att.FileName,
			ContentType: att.ContentType,
			Content:     bytes.NewReader(att.Content),
			Size:        int64(len(att.Content)),
		})
	}

	// Also include inline attachments
	for _, att := range env.Inlines {
		if att.FileName != "" {
			parsed.Attachments = append(parsed.Attachments, ParsedAttachment{
				Filename:    att.FileName,
				ContentType: att.ContentType,
				Content:     bytes.NewReader(att.Content),
				Size:        int64(len(att.Content)),
			})
		}
	}

	return parsed, nil
}

// ConversationID derives a stable thread key for the email. The thread
// root from the References chain wins, then In-Reply-To, then a hash of
// the normalized subject so detached forwards of one notice still land
// in the same conversation.
func (p *ParsedEmail) ConversationID() string {
	if len(p.References) > 0 {
		return p.References[0]
	}
	if p.InReplyTo != "" {
		return p.InReplyTo
	}
	subject := normalizeSubject(p.Subject)
	if subject == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(subject))
	return "subj-" + hex.EncodeToString(sum[:6])
}

// normalizeSubject strips reply/forward prefixes and collapses whitespace
func normalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		switch {
		case strings.HasPrefix(s, "re:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(s, "fwd:"):
			s = strings.TrimSpace(s[4:])
		case strings.HasPrefix(s, "fw:"):
			s = strings.TrimSpace(s[3:])
		default:
			return strings.Join(strings.Fields(s), " ")
		}
	}
}

// parseFromHeader extracts name and email from a From header
func parseFromHeader(from string) (name, email string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}

	// Pattern: "Name" <email@example.com> or Name <email@example.com>
	re := regexp.MustCompile(`^(?:"?([^"<]*)"?\s*)?<?([^<>]+@[^<>]+)>?$`)
	matches := re.FindStringSubmatch(from)

	if len(matches) >= 3 {
		name = strings.TrimSpace(matches[1])
		email = strings.TrimSpace(matches[2])
		// Remove quotes from name
		name = strings.Trim(name, `"`)
	} else {
		// Fallback: treat entire string as email
		email = from
	}

	return name, strings.ToLower(email)
}

// generateSnippet creates a preview snippet from email body
func generateSnippet(bodyText, bodyHTML string) string {
	var text string

	if bodyText != "" {
		text = bodyText
	} else if bodyHTML != "" {
		// Strip HTML tags
		text = stripHTMLTags(bodyHTML)
	}

	// Clean up whitespace
	text = strings.Join(strings.Fields(text), " ")
	text = strings.TrimSpace(text)

	// Truncate to 255 characters
	if len(text) > 255 {
		text = text[:252] + "..."
	}

	return text
}

// stripHTMLTags removes HTML tags from a string
func stripHTMLTags(html string) string {
	// Remove script and style elements
	re := regexp.MustCompile(`(?i)<(script|style)[^>]*>[\s\S]*?</\1>`)
	html = re.ReplaceAllString(html, "")

	// Remove HTML tags
	re = regexp.MustCompile(`<[^>]*>`)
	html = re.ReplaceAllString(html, " ")

	// Decode common HTML entities
	html = strings.ReplaceAll(html, "&nbsp;", " ")
	html = strings.ReplaceAll(html, "&amp;", "&")
	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	html = strings.ReplaceAll(html, "&quot;", `"`)
	html = strings.ReplaceAll(html, "&#39;", "'")

	return html
}
