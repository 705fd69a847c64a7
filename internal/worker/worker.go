package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mail-chat-bridge-go/internal/composer"
	"mail-chat-bridge-go/internal/config"
	"mail-chat-bridge-go/internal/extractor"
	"mail-chat-bridge-go/internal/mailbox"
	"mail-chat-bridge-go/internal/metrics"
	"mail-chat-bridge-go/internal/models"
	"mail-chat-bridge-go/internal/store"
)

// ErrConnect marks a mail session that could not be established. It is the
// only error that ends a worker.
var ErrConnect = errors.New("mail connection failed")

// State is the position of a worker in its poll loop
type State string

const (
	StateConnecting State = "connecting"
	StatePolling    State = "polling"
	StateProcessing State = "processing"
	StateIdle       State = "idle"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// MailSession is an open mailbox connection
type MailSession interface {
	FetchUnread(ctx context.Context) ([]models.MailMessage, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Alive() bool
	Close() error
}

// DialFunc opens a new mail session
type DialFunc func(ctx context.Context) (MailSession, error)

// IMAP adapts a mailbox dialer to a DialFunc
func IMAP(d *mailbox.Dialer) DialFunc {
	return func(ctx context.Context) (MailSession, error) {
		s, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ChatClient uploads files and creates posts on the chat backend
type ChatClient interface {
	UploadFile(ctx context.Context, channelID, clientID, path, name string) (models.UploadedFile, error)
	CreatePost(ctx context.Context, post models.ChatPost) error
}

// Journal records delivery outcomes
type Journal interface {
	Record(ctx context.Context, rec *models.DeliveryRecord) error
}

// Deps are the collaborators of a worker. Journal and Wait are optional.
type Deps struct {
	Dial      DialFunc
	Chat      ChatClient
	Extractor *extractor.Extractor
	Store     *store.Store
	Composer  *composer.Composer
	Journal   Journal
	Metrics   *metrics.Metrics
	Log       *logrus.Entry
	// Wait blocks for d or until ctx is done. Defaults to a timer.
	Wait func(ctx context.Context, d time.Duration) error
}

// Status is a snapshot of a worker for operators
type Status struct {
	Account   string    `json:"account"`
	State     State     `json:"state"`
	Cycles    int64     `json:"cycles"`
	Messages  int64     `json:"messages"`
	LastCycle time.Time `json:"last_cycle,omitempty"`
	NextCycle time.Time `json:"next_cycle,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Worker runs the poll loop of one account. It is not safe to call Run or
// RunCycle concurrently; Status may be called from any goroutine.
type Worker struct {
	cfg      config.AccountConfig
	deps     Deps
	log      *logrus.Entry
	schedule cron.Schedule
	session  MailSession

	mu     sync.RWMutex
	status Status
}

// New creates a worker for cfg. The configuration is copied and never changed.
func New(cfg config.AccountConfig, deps Deps) *Worker {
	if deps.Wait == nil {
		deps.Wait = sleep
	}
	log := deps.Log
	if log == nil {
		log = logrus.WithField("account", cfg.Name)
	}

	return &Worker{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		schedule: cron.Every(cfg.PollDuration()),
		status:   Status{Account: cfg.Name, State: StateStopped},
	}
}

// Name returns the account name
func (w *Worker) Name() string {
	return w.cfg.Name
}

// Status returns a snapshot of the worker
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Run polls until ctx is cancelled. It returns nil on cancellation and an
// error wrapping ErrConnect when the mail session cannot be established.
func (w *Worker) Run(ctx context.Context) error {
	up := w.deps.Metrics.WorkerUp.WithLabelValues(w.cfg.Name)
	up.Set(1)
	defer up.Set(0)
	defer w.closeSession()

	w.log.WithFields(logrus.Fields{
		"interval": w.cfg.PollDuration().String(),
		"channel":  w.cfg.Chat.ChannelID,
		"store":    w.deps.Store.Dir(),
	}).Info("Account worker started")

	for {
		if err := w.RunCycle(ctx); err != nil {
			w.setState(StateFailed)
			return err
		}

		now := time.Now()
		next := w.schedule.Next(now)
		w.update(func(s *Status) {
			s.State = StateIdle
			s.NextCycle = next
		})

		if err := w.deps.Wait(ctx, next.Sub(now)); err != nil {
			w.setState(StateStopped)
			w.log.Info("Account worker stopped")
			return nil
		}
	}
}

// RunCycle performs one poll: connect if needed, fetch unread messages and
// process each of them. Only a connection failure is returned.
func (w *Worker) RunCycle(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	if err := w.ensureSession(ctx); err != nil {
		return err
	}

	cycleID := uuid.NewString()
	log := w.log.WithField("cycle", cycleID)
	start := time.Now()
	defer func() {
		w.deps.Metrics.CycleDuration.WithLabelValues(w.cfg.Name).Observe(time.Since(start).Seconds())
		w.update(func(s *Status) {
			s.Cycles++
			s.LastCycle = start
		})
	}()

	w.setState(StatePolling)
	w.deps.Metrics.PollCount.WithLabelValues(w.cfg.Name).Inc()

	messages, err := w.session.FetchUnread(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to fetch unread messages")
		w.deps.Metrics.FetchFailures.WithLabelValues(w.cfg.Name).Inc()
		w.update(func(s *Status) { s.LastError = err.Error() })
		return nil
	}

	if len(messages) == 0 {
		log.Debug("No unread messages")
		return nil
	}
	log.Infof("Fetched %d unread messages", len(messages))

	w.setState(StateProcessing)
	for _, msg := range messages {
		if ctx.Err() != nil {
			log.Info("Stopping before the end of the batch; remaining messages stay unread")
			break
		}
		w.processMessage(ctx, log, msg)
	}

	return nil
}

func (w *Worker) ensureSession(ctx context.Context) error {
	if w.session != nil && w.session.Alive() {
		return nil
	}
	if w.session != nil {
		w.log.Warn("Mail session lost, reconnecting")
		w.closeSession()
	}

	w.setState(StateConnecting)
	session, err := w.deps.Dial(ctx)
	if err != nil {
		w.log.WithError(err).Error("Failed to connect to mail server")
		w.update(func(s *Status) { s.LastError = err.Error() })
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	w.session = session
	return nil
}

func (w *Worker) closeSession() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		w.log.WithError(err).Debug("Failed to close mail session")
	}
	w.session = nil
}

// delivery is the state of one message while it is processed. The deferred
// acknowledgment reads the uid from here on every path.
type delivery struct {
	uid         uint32
	messageID   string
	subject     string
	attachments int
	fileIDs     []string
	posted      bool
	skipped     bool
	acked       bool
	errs        []error
}

func (d *delivery) fail(err error) {
	d.errs = append(d.errs, err)
}

func (d *delivery) status() string {
	switch {
	case d.skipped && len(d.errs) == 0:
		return models.DeliverySkipped
	case d.posted && len(d.errs) == 0:
		return models.DeliveryDelivered
	case d.posted:
		return models.DeliveryPartial
	default:
		return models.DeliveryFailed
	}
}

// processMessage extracts, uploads, composes and posts one message, then
// marks it seen whatever the outcome.
func (w *Worker) processMessage(ctx context.Context, cycleLog *logrus.Entry, msg models.MailMessage) {
	d := &delivery{uid: msg.UID, messageID: msg.MessageID, subject: msg.Subject}
	log := cycleLog.WithFields(logrus.Fields{"uid": msg.UID, "message_id": msg.MessageID})

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic while processing message: %v", r)
			d.fail(fmt.Errorf("panic: %v", r))
		}
		w.acknowledge(ctx, log, d)
	}()

	res := w.deps.Extractor.Extract(log, msg, func(att models.ProcessedAttachment) error {
		return w.upload(ctx, log, d, att)
	})
	d.attachments = len(res.Attachments)
	for _, err := range res.Errors {
		d.fail(err)
	}
	w.countAttachments(res)

	if res.Aborted != nil {
		log.WithError(res.Aborted).Error("Upload failed, abandoning message")
		d.fail(res.Aborted)
		return
	}

	text := w.deps.Composer.Compose(msg, res.Attachments)
	if text == "" && len(d.fileIDs) == 0 {
		log.Info("Nothing to post for message")
		d.skipped = true
		return
	}

	post := models.ChatPost{ChannelID: w.cfg.Chat.ChannelID, Message: text, FileIDs: d.fileIDs}
	if err := w.deps.Chat.CreatePost(ctx, post); err != nil {
		log.WithError(err).Error("Failed to create post")
		w.deps.Metrics.Posts.WithLabelValues(w.cfg.Name, "failure").Inc()
		d.fail(err)
		return
	}
	w.deps.Metrics.Posts.WithLabelValues(w.cfg.Name, "success").Inc()
	d.posted = true
}

// upload sends att unless its content was relayed before. It runs right after
// att is persisted, so in filename mode a later attachment with the same name
// cannot replace the bytes first. A file written for att is removed when the
// upload fails; files uploaded earlier for the same message stay in the store.
func (w *Worker) upload(ctx context.Context, log *logrus.Entry, d *delivery, att models.ProcessedAttachment) error {
	if att.Duplicate {
		log.Debugf("Attachment %q already relayed as %s", att.Filename, att.Digest)
		return nil
	}

	file, err := w.deps.Chat.UploadFile(ctx, w.cfg.Chat.ChannelID, att.Digest.String(), att.Path, att.Filename)
	if err != nil {
		w.deps.Metrics.Uploads.WithLabelValues(w.cfg.Name, "failure").Inc()
		w.discard(log, att)
		return err
	}
	w.deps.Metrics.Uploads.WithLabelValues(w.cfg.Name, "success").Inc()
	d.fileIDs = append(d.fileIDs, file.ID)
	log.Debugf("Uploaded %q as file %s", att.Filename, file.ID)
	return nil
}

func (w *Worker) discard(log *logrus.Entry, att models.ProcessedAttachment) {
	if !w.deps.Store.ContentAddressed() || !att.Written {
		return
	}
	if err := w.deps.Store.Remove(att.Path); err != nil {
		log.WithError(err).Warnf("Failed to remove %s", att.Path)
	}
}

func (w *Worker) countAttachments(res extractor.Result) {
	name := w.cfg.Name
	for _, att := range res.Attachments {
		if att.Written {
			w.deps.Metrics.AttachmentsStored.WithLabelValues(name).Inc()
		} else {
			w.deps.Metrics.AttachmentsDeduped.WithLabelValues(name).Inc()
		}
	}
	if n := len(res.Errors); n > 0 {
		w.deps.Metrics.AttachmentFailures.WithLabelValues(name).Add(float64(n))
	}
}

// acknowledge marks the message seen even when ctx was cancelled mid-message,
// then journals the outcome
func (w *Worker) acknowledge(ctx context.Context, log *logrus.Entry, d *delivery) {
	ackCtx := context.WithoutCancel(ctx)

	if err := w.session.MarkSeen(ackCtx, d.uid); err != nil {
		log.WithError(err).Error("Failed to mark message seen")
		w.deps.Metrics.AckFailures.WithLabelValues(w.cfg.Name).Inc()
		d.fail(err)
	} else {
		d.acked = true
	}

	status := d.status()
	w.deps.Metrics.MessagesProcessed.WithLabelValues(w.cfg.Name).Inc()
	if len(d.errs) > 0 {
		w.deps.Metrics.MessageFailures.WithLabelValues(w.cfg.Name).Inc()
		w.update(func(s *Status) { s.LastError = errors.Join(d.errs...).Error() })
	}
	w.update(func(s *Status) { s.Messages++ })

	entry := log.WithFields(logrus.Fields{
		"status":      status,
		"attachments": d.attachments,
		"uploaded":    len(d.fileIDs),
		"acked":       d.acked,
	})
	if len(d.errs) > 0 {
		entry.WithError(errors.Join(d.errs...)).Warn("Message processed with errors")
	} else {
		entry.Info("Message processed")
	}

	if w.deps.Journal == nil {
		return
	}
	rec := &models.DeliveryRecord{
		Account:     w.cfg.Name,
		UID:         d.uid,
		MessageID:   d.messageID,
		Subject:     models.ClipSubject(d.subject),
		Attachments: d.attachments,
		Uploaded:    len(d.fileIDs),
		Status:      status,
		Acked:       d.acked,
		ErrorMsg:    joinErrors(d.errs),
	}
	if err := w.deps.Journal.Record(ackCtx, rec); err != nil {
		log.WithError(err).Warn("Failed to journal delivery")
	}
}

func (w *Worker) setState(state State) {
	w.update(func(s *Status) { s.State = state })
}

func (w *Worker) update(fn func(s *Status)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.status)
}

func joinErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
