package composer

import (
	"fmt"
	"strings"
	"time"

	"mail-chat-bridge-go/internal/config"
	"mail-chat-bridge-go/internal/models"
)

// Row labels of the composed table
const (
	LabelSubject        = "Subject"
	LabelSender         = "Sender"
	LabelRecipient      = "Recipient"
	LabelDate           = "Date"
	LabelMessageID      = "Message-ID"
	LabelAttachment     = "Attachment"
	LabelClassification = "Classification"
	LabelHeaders        = "Headers"
	LabelBody           = "Body"
)

// Composer renders a mail message as chat markdown: a two-column table with
// one row per field, followed by fenced blocks for headers and body.
type Composer struct {
	fields         config.FieldPolicy
	classification string
}

// New creates a composer for the given field policy and classification tag
func New(fields config.FieldPolicy, classification string) *Composer {
	return &Composer{fields: fields, classification: strings.TrimSpace(classification)}
}

// field is one optional row; value reports false when the source is absent
type field struct {
	label   string
	enabled bool
	value   func() (string, bool)
}

// Compose never fails: disabled or unavailable fields are left out. An empty
// string means there was nothing to render.
func (c *Composer) Compose(msg models.MailMessage, attachments []models.ProcessedAttachment) string {
	var rows []string

	for _, f := range c.scalarFields(msg) {
		if !f.enabled {
			continue
		}
		if v, ok := f.value(); ok {
			rows = append(rows, row(f.label, code(v)))
		}
	}

	if c.fields.Attachments {
		for _, att := range attachments {
			if line, ok := attachmentLine(att); ok {
				rows = append(rows, row(LabelAttachment, line))
			}
		}
	}

	if c.classification != "" {
		rows = append(rows, row(LabelClassification, code(c.classification)))
	}

	var b strings.Builder
	if len(rows) > 0 {
		b.WriteString("| Field | Value |\n|:------|:------|\n")
		for _, r := range rows {
			b.WriteString(r)
			b.WriteString("\n")
		}
	}

	if c.fields.Headers {
		if h := msg.RawHeaders(); h != "" {
			block(&b, LabelHeaders, h)
		}
	}

	if body, ok := c.body(msg); ok {
		block(&b, LabelBody, body)
	}

	return strings.TrimRight(b.String(), "\n")
}

func (c *Composer) scalarFields(msg models.MailMessage) []field {
	return []field{
		{LabelSubject, c.fields.Subject, func() (string, bool) { return present(msg.Subject) }},
		{LabelSender, c.fields.Sender, func() (string, bool) { return present(strings.Join(msg.From, ", ")) }},
		{LabelRecipient, c.fields.Recipient, func() (string, bool) { return present(strings.Join(msg.Recipients(), ", ")) }},
		{LabelDate, c.fields.Date, func() (string, bool) {
			if msg.Date.IsZero() {
				return "", false
			}
			return msg.Date.Format(time.RFC1123Z), true
		}},
		{LabelMessageID, c.fields.MessageID, func() (string, bool) { return present(msg.MessageID) }},
	}
}

// body picks the plain text body over HTML when both are enabled and present
func (c *Composer) body(msg models.MailMessage) (string, bool) {
	if c.fields.BodyPlain {
		if v, ok := present(msg.TextBody); ok {
			return v, true
		}
	}
	if c.fields.BodyHTML {
		if v, ok := present(msg.HTMLBody); ok {
			return v, true
		}
	}
	return "", false
}

func attachmentLine(att models.ProcessedAttachment) (string, bool) {
	if att.Digest.IsZero() {
		return "", false
	}
	name := att.Filename
	if strings.TrimSpace(name) == "" {
		name = "(unnamed)"
	}
	line := fmt.Sprintf("%s sha256 %s", code(name), code(att.Digest.String()))
	if att.Duplicate {
		line += " (already relayed)"
	}
	return line, true
}

func present(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func row(label, value string) string {
	return fmt.Sprintf("| %s | %s |", label, value)
}

// code wraps a single-line value in backticks, flattening characters that
// would break the table cell
func code(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "|", "\\|")
	return "`" + s + "`"
}

func block(b *strings.Builder, label, content string) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	content = strings.ReplaceAll(content, "```", "'''")
	fmt.Fprintf(b, "**%s**\n```\n%s\n```\n", label, strings.TrimRight(content, "\r\n"))
}
