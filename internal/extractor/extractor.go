package extractor

import (
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"mail-chat-bridge-go/internal/config"
	"mail-chat-bridge-go/internal/models"
	"mail-chat-bridge-go/internal/store"
)

// Result is the outcome of extracting one message's attachments
type Result struct {
	Attachments []models.ProcessedAttachment
	Skipped     int
	Dropped     int
	Errors      []error
	// Aborted is the error that stopped extraction early, if any.
	Aborted error
}

// Deliver receives each attachment as soon as it is persisted, before the
// next one can replace it in the store. An error stops extraction.
type Deliver func(models.ProcessedAttachment) error

// Extractor applies the attachment policy and persists accepted attachments
type Extractor struct {
	store  *store.Store
	policy config.AttachmentPolicy
}

// New creates an extractor writing to st
func New(st *store.Store, policy config.AttachmentPolicy) *Extractor {
	return &Extractor{store: st, policy: policy}
}

// Extract processes msg's attachments in order. Excluded types are skipped,
// attachments beyond the cap are dropped, and a failure on one attachment is
// logged and recorded without stopping the rest. deliver may be nil.
func (e *Extractor) Extract(log *logrus.Entry, msg models.MailMessage, deliver Deliver) Result {
	var res Result
	attempted := 0

	for _, att := range msg.Attachments {
		contentType := e.contentType(att)
		if e.excluded(contentType) {
			log.Debugf("Skipping attachment %q of type %s", att.Filename, contentType)
			res.Skipped++
			continue
		}

		if e.policy.MaxCount > 0 && attempted >= e.policy.MaxCount {
			res.Dropped++
			continue
		}
		attempted++

		processed, err := e.persist(att, contentType)
		if err != nil {
			log.Warnf("Failed to extract attachment %q from message %d: %v", att.Filename, msg.UID, err)
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Attachments = append(res.Attachments, processed)

		if deliver != nil {
			if err := deliver(processed); err != nil {
				res.Aborted = err
				break
			}
		}
	}

	if res.Dropped > 0 {
		log.Infof("Dropped %d attachments of message %d above the limit of %d", res.Dropped, msg.UID, e.policy.MaxCount)
	}

	return res
}

// persist hashes the content, rewinds, and writes it to the store
func (e *Extractor) persist(att models.Attachment, contentType string) (models.ProcessedAttachment, error) {
	out := models.ProcessedAttachment{Filename: att.Filename, ContentType: contentType}

	r, err := att.Open()
	if err != nil {
		return out, err
	}

	digest, err := models.DigestOf(r)
	if err != nil {
		return out, fmt.Errorf("failed to hash attachment: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return out, fmt.Errorf("failed to rewind attachment: %w", err)
	}

	path, written, err := e.store.Put(r, att.Filename, digest)
	if err != nil {
		return out, err
	}

	out.Digest = digest
	out.Path = path
	out.Written = written
	out.Duplicate = e.store.ContentAddressed() && !written
	return out, nil
}

// contentType returns the declared type, sniffing the content when the
// sender left it empty or generic
func (e *Extractor) contentType(att models.Attachment) string {
	declared := strings.ToLower(strings.TrimSpace(att.ContentType))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}

	r, err := att.Open()
	if err != nil {
		return declared
	}
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return declared
	}
	return strings.ToLower(mt.String())
}

func (e *Extractor) excluded(contentType string) bool {
	for _, prefix := range e.policy.ExcludeTypes {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix != "" && strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}
