package mailbox

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"mail-chat-bridge-go/internal/models"
)

// fromIMAP converts a fetched message. Envelope data is used as a fallback
// so a message with an unparseable body still carries its identity.
func fromIMAP(msg *imap.Message, section *imap.BodySectionName) (models.MailMessage, error) {
	out := models.MailMessage{UID: msg.Uid}

	var parseErr error
	if body := msg.GetBody(section); body != nil {
		parseErr = ParseMIME(body, &out)
	} else {
		parseErr = errors.New("server returned no message body")
	}

	if env := msg.Envelope; env != nil {
		if out.Subject == "" {
			out.Subject = env.Subject
		}
		if out.Date.IsZero() {
			out.Date = env.Date
		}
		if out.MessageID == "" {
			out.MessageID = env.MessageId
		}
		if len(out.From) == 0 {
			out.From = envelopeAddresses(env.From)
		}
		if len(out.To) == 0 {
			out.To = envelopeAddresses(env.To)
		}
		if len(out.Cc) == 0 {
			out.Cc = envelopeAddresses(env.Cc)
		}
	}

	return out, parseErr
}

// ParseMIME reads an RFC 5322 message into msg: headers, the first plain and
// HTML text parts, and every attachment. Parts read before an error are kept.
func ParseMIME(r io.Reader, msg *models.MailMessage) error {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	readHeader(mr.Header, msg)

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("failed to read part: %w", err)
		}
		if p == nil {
			continue
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			readInline(h, p.Body, msg)
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			msg.Attachments = append(msg.Attachments, readAttachment(filename, contentType, p.Body))
		}
	}
}

func readHeader(h mail.Header, msg *models.MailMessage) {
	fields := h.Fields()
	for fields.Next() {
		msg.Headers = append(msg.Headers, models.HeaderField{Key: fields.Key(), Value: fields.Value()})
	}

	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		msg.MessageID = id
	}
	msg.From = headerAddresses(h, "From")
	msg.To = headerAddresses(h, "To")
	msg.Cc = headerAddresses(h, "Cc")
}

// readInline keeps the first text/plain and text/html parts. Inline parts
// of any other type that carry a file name are treated as attachments.
func readInline(h *mail.InlineHeader, body io.Reader, msg *models.MailMessage) {
	contentType, params, _ := h.ContentType()

	switch {
	case contentType == "text/plain" && msg.TextBody == "":
		if b, err := io.ReadAll(body); err == nil {
			msg.TextBody = string(b)
		}
	case contentType == "text/html" && msg.HTMLBody == "":
		if b, err := io.ReadAll(body); err == nil {
			msg.HTMLBody = string(b)
		}
	case !strings.HasPrefix(contentType, "text/") && params["name"] != "":
		msg.Attachments = append(msg.Attachments, readAttachment(params["name"], contentType, body))
	}
}

func readAttachment(filename, contentType string, body io.Reader) models.Attachment {
	content, err := io.ReadAll(body)
	if err != nil {
		return models.UnreadableAttachment(filename, contentType, err)
	}
	return models.NewAttachment(filename, contentType, content)
}

func headerAddresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, formatAddress(a.Name, a.Address))
	}
	return out
}

func envelopeAddresses(list []*imap.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, formatAddress(a.PersonalName, a.Address()))
	}
	return out
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}
