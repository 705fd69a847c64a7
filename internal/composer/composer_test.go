package composer

import (
	"crypto/sha256"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mail-chat-bridge-go/internal/config"
	"mail-chat-bridge-go/internal/models"
)

func fullMessage() models.MailMessage {
	return models.MailMessage{
		UID:       1,
		Subject:   "Alert",
		From:      []string{"Monitor <monitor@example.com>"},
		To:        []string{"soc@example.com"},
		Date:      time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		MessageID: "<abc@example.com>",
		Headers:   []models.HeaderField{{Key: "X-Spam", Value: "no"}},
		TextBody:  "plain body",
		HTMLBody:  "<p>html body</p>",
	}
}

func processed(name, content string) models.ProcessedAttachment {
	return models.ProcessedAttachment{
		Filename: name,
		Digest:   models.ContentDigest(sha256.Sum256([]byte(content))),
	}
}

func hasRow(text, label string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "| "+label+" |") {
			return true
		}
	}
	return false
}

func hasBlock(text, label string) bool {
	return strings.Contains(text, "**"+label+"**\n```")
}

// policyFromMask enumerates every combination of the nine toggles
func policyFromMask(mask int) config.FieldPolicy {
	bit := func(i int) bool { return mask&(1<<i) != 0 }
	return config.FieldPolicy{
		Subject:     bit(0),
		Sender:      bit(1),
		Recipient:   bit(2),
		Date:        bit(3),
		MessageID:   bit(4),
		Headers:     bit(5),
		BodyPlain:   bit(6),
		BodyHTML:    bit(7),
		Attachments: bit(8),
	}
}

func TestFieldPolicyFidelity(t *testing.T) {
	atts := []models.ProcessedAttachment{processed("a.txt", "a")}

	for mask := 0; mask < 1<<9; mask++ {
		p := policyFromMask(mask)
		c := New(p, "")

		full := c.Compose(fullMessage(), atts)
		assert.Equal(t, p.Subject, hasRow(full, LabelSubject), "mask %d", mask)
		assert.Equal(t, p.Sender, hasRow(full, LabelSender), "mask %d", mask)
		assert.Equal(t, p.Recipient, hasRow(full, LabelRecipient), "mask %d", mask)
		assert.Equal(t, p.Date, hasRow(full, LabelDate), "mask %d", mask)
		assert.Equal(t, p.MessageID, hasRow(full, LabelMessageID), "mask %d", mask)
		assert.Equal(t, p.Attachments, hasRow(full, LabelAttachment), "mask %d", mask)
		assert.Equal(t, p.Headers, hasBlock(full, LabelHeaders), "mask %d", mask)
		assert.Equal(t, p.BodyPlain || p.BodyHTML, hasBlock(full, LabelBody), "mask %d", mask)

		empty := c.Compose(models.MailMessage{}, nil)
		assert.Empty(t, empty, "mask %d", mask)
	}
}

func TestPlainBodyTakesPrecedence(t *testing.T) {
	c := New(config.FieldPolicy{BodyPlain: true, BodyHTML: true}, "")

	text := c.Compose(fullMessage(), nil)
	assert.Contains(t, text, "plain body")
	assert.NotContains(t, text, "html body")

	msg := fullMessage()
	msg.TextBody = ""
	text = c.Compose(msg, nil)
	assert.Contains(t, text, "<p>html body</p>")
}

func TestHTMLOnlyPolicyIgnoresPlainBody(t *testing.T) {
	c := New(config.FieldPolicy{BodyHTML: true}, "")
	text := c.Compose(fullMessage(), nil)
	assert.Contains(t, text, "html body")
	assert.NotContains(t, text, "plain body")
}

func TestClassificationAppendedLast(t *testing.T) {
	c := New(config.FieldPolicy{Subject: true, Attachments: true}, " RED ")
	text := c.Compose(fullMessage(), []models.ProcessedAttachment{processed("a.txt", "a")})

	lines := strings.Split(text, "\n")
	assert.Equal(t, "| Classification | `RED` |", lines[len(lines)-1])

	// a bare tag still produces a post
	assert.Equal(t,
		"| Field | Value |\n|:------|:------|\n| Classification | `RED` |",
		New(config.FieldPolicy{}, "RED").Compose(models.MailMessage{}, nil))
}

func TestScenarioAlertWithTwoAttachments(t *testing.T) {
	c := New(config.FieldPolicy{Subject: true, Attachments: true}, "")
	atts := []models.ProcessedAttachment{processed("one.pdf", "1"), processed("two.csv", "2")}

	text := c.Compose(models.MailMessage{Subject: "Alert"}, atts)

	assert.Contains(t, text, "| Subject | `Alert` |")
	assert.Equal(t, 2, strings.Count(text, "| Attachment |"))
	assert.Contains(t, text, "`one.pdf` sha256 `"+atts[0].Digest.String()+"`")
	assert.Contains(t, text, "`two.csv` sha256 `"+atts[1].Digest.String()+"`")
}

func TestDuplicateAttachmentMarked(t *testing.T) {
	att := processed("dup.bin", "x")
	att.Duplicate = true

	text := New(config.FieldPolicy{Attachments: true}, "").Compose(models.MailMessage{}, []models.ProcessedAttachment{att})
	assert.Contains(t, text, "(already relayed)")
}

func TestAttachmentWithoutDigestOmitted(t *testing.T) {
	text := New(config.FieldPolicy{Attachments: true}, "").Compose(models.MailMessage{},
		[]models.ProcessedAttachment{{Filename: "never-hashed.txt"}})
	assert.Empty(t, text)
}

func TestValuesAreFlattened(t *testing.T) {
	msg := models.MailMessage{Subject: "multi\nline | with `ticks`"}
	text := New(config.FieldPolicy{Subject: true}, "").Compose(msg, nil)
	assert.Contains(t, text, "| Subject | `multi line \\| with 'ticks'` |")
}

func TestWhitespaceOnlyFieldIsUnavailable(t *testing.T) {
	msg := models.MailMessage{Subject: "   ", MessageID: "<id@x>"}
	text := New(config.FieldPolicy{Subject: true, MessageID: true}, "").Compose(msg, nil)
	assert.False(t, hasRow(text, LabelSubject))
	assert.True(t, hasRow(text, LabelMessageID))
}
