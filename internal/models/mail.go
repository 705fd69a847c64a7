package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

// MailMessage is one unread message read from the mail server. It lives for a
// single poll cycle; only its \Seen flag is ever changed, and only on the server.
type MailMessage struct {
	UID         uint32
	Subject     string
	From        []string
	To          []string
	Cc          []string
	Date        time.Time
	MessageID   string
	Headers     []HeaderField
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// HeaderField is a raw header line in message order
type HeaderField struct {
	Key   string
	Value string
}

// Recipients returns To and Cc addresses in order
func (m MailMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	return append(out, m.Cc...)
}

// RawHeaders renders the header block one "Key: Value" per line
func (m MailMessage) RawHeaders() string {
	var b strings.Builder
	for _, h := range m.Headers {
		fmt.Fprintf(&b, "%s: %s\n", h.Key, h.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Attachment holds the bytes of one attachment. Open returns a fresh
// seekable reader on every call so content can be hashed and then persisted.
type Attachment struct {
	Filename    string
	ContentType string
	content     []byte
	readErr     error
}

// NewAttachment creates an attachment from its decoded content
func NewAttachment(filename, contentType string, content []byte) Attachment {
	return Attachment{Filename: filename, ContentType: contentType, content: content}
}

// UnreadableAttachment records an attachment whose content could not be decoded
func UnreadableAttachment(filename, contentType string, err error) Attachment {
	return Attachment{Filename: filename, ContentType: contentType, readErr: err}
}

// Open returns a reader positioned at the start of the content
func (a Attachment) Open() (io.ReadSeeker, error) {
	if a.readErr != nil {
		return nil, fmt.Errorf("attachment %q unreadable: %w", a.Filename, a.readErr)
	}
	return bytes.NewReader(a.content), nil
}

// Size returns the content length in bytes
func (a Attachment) Size() int {
	return len(a.content)
}

// ContentDigest is the SHA-256 digest of an attachment's raw bytes
type ContentDigest [sha256.Size]byte

// String returns the lowercase hex encoding
func (d ContentDigest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest was never computed
func (d ContentDigest) IsZero() bool {
	return d == ContentDigest{}
}

// DigestOf hashes everything readable from r
func DigestOf(r io.Reader) (ContentDigest, error) {
	var d ContentDigest
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return d, err
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// ProcessedAttachment is an attachment that passed the policy and was
// persisted to the content store
type ProcessedAttachment struct {
	Filename    string
	ContentType string
	Digest      ContentDigest
	Path        string
	// Written is false when the store already held this content.
	Written bool
	// Duplicate marks content that was relayed before and is not uploaded again.
	Duplicate bool
}
