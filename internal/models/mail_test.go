package models

import (
	"crypto/sha256"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestOf(t *testing.T) {
	data := []byte("quarterly report")
	d, err := DigestOf(NewAttachment("a.txt", "text/plain", data).mustOpen(t))
	require.NoError(t, err)

	assert.Equal(t, ContentDigest(sha256.Sum256(data)), d)
	assert.Len(t, d.String(), 64)
	assert.False(t, d.IsZero())
	assert.True(t, ContentDigest{}.IsZero())
}

func TestAttachmentOpenIsRereadable(t *testing.T) {
	att := NewAttachment("a.bin", "application/octet-stream", []byte{1, 2, 3})

	first, err := io.ReadAll(att.mustOpen(t))
	require.NoError(t, err)
	second, err := io.ReadAll(att.mustOpen(t))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, att.Size())
}

func TestUnreadableAttachment(t *testing.T) {
	att := UnreadableAttachment("broken.pdf", "application/pdf", io.ErrUnexpectedEOF)
	_, err := att.Open()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMailMessageHelpers(t *testing.T) {
	msg := MailMessage{
		To:      []string{"a@example.com"},
		Cc:      []string{"b@example.com"},
		Headers: []HeaderField{{"From", "x@example.com"}, {"Subject", "Hi"}},
	}

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, msg.Recipients())
	assert.Equal(t, "From: x@example.com\nSubject: Hi", msg.RawHeaders())
}

func (a Attachment) mustOpen(t *testing.T) io.ReadSeeker {
	t.Helper()
	r, err := a.Open()
	require.NoError(t, err)
	return r
}
