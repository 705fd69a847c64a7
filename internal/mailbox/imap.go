package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"mail-chat-bridge-go/internal/config"
	"mail-chat-bridge-go/internal/models"
)

// oauthMailScope grants full IMAP access on Google accounts
const oauthMailScope = "https://mail.google.com/"

// ConnectionError reports a failure to establish an authenticated session
type ConnectionError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("imap %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Dialer opens IMAP sessions for one account
type Dialer struct {
	cfg config.MailConfig
	log *logrus.Entry
}

// NewDialer creates a dialer for the given mail settings
func NewDialer(cfg config.MailConfig, log *logrus.Entry) *Dialer {
	return &Dialer{cfg: cfg, log: log}
}

// Dial connects, upgrades TLS when configured, authenticates and returns a
// session ready for FetchUnread. Any failure is a *ConnectionError.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	addr := d.cfg.Address()
	fail := func(op string, err error) error {
		return &ConnectionError{Addr: addr, Op: op, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, fail("dial", err)
	}

	tlsConfig := &tls.Config{
		ServerName:         d.cfg.Server,
		InsecureSkipVerify: d.cfg.TLSSkipVerify,
	}
	dialer := &net.Dialer{Timeout: d.cfg.Timeout}

	var (
		c   *client.Client
		err error
	)
	if d.cfg.SSL {
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fail("dial", err)
	}
	c.Timeout = d.cfg.Timeout
	c.ErrorLog = d.log

	if d.cfg.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Logout()
			return nil, fail("starttls", err)
		}
	}

	if err := d.authenticate(ctx, c); err != nil {
		c.Logout()
		return nil, fail("login", err)
	}

	d.log.WithFields(logrus.Fields{
		"server":  addr,
		"mailbox": d.cfg.Mailbox,
		"auth":    d.cfg.Auth,
	}).Info("Connected to mail server")

	return &Session{c: c, mailbox: d.cfg.Mailbox, log: d.log}, nil
}

func (d *Dialer) authenticate(ctx context.Context, c *client.Client) error {
	if d.cfg.Auth != config.AuthOAuth2 {
		return c.Login(d.cfg.Username, d.cfg.Password)
	}

	token, err := d.accessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh access token: %w", err)
	}
	return c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: d.cfg.Username,
		Token:    token,
		Host:     d.cfg.Server,
		Port:     d.cfg.Port,
	}))
}

func (d *Dialer) accessToken(ctx context.Context) (string, error) {
	endpoint := google.Endpoint
	if d.cfg.OAuthTokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: d.cfg.OAuthTokenURL}
	}

	oauth2Config := &oauth2.Config{
		ClientID:     d.cfg.OAuthClientID,
		ClientSecret: d.cfg.OAuthClientSecret,
		Scopes:       []string{oauthMailScope},
		Endpoint:     endpoint,
	}

	token, err := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: d.cfg.OAuthRefreshToken}).Token()
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// Session is an authenticated IMAP connection bound to one mailbox. It is
// used by a single goroutine.
type Session struct {
	c       *client.Client
	mailbox string
	log     *logrus.Entry
}

// FetchUnread returns every message without the \Seen flag. Bodies are
// fetched with BODY.PEEK so reading does not mark them seen.
func (s *Session) FetchUnread(ctx context.Context) ([]models.MailMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := s.c.Select(s.mailbox, false); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", s.mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unread messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope, imap.FetchUid}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, messages)
	}()

	result := make([]models.MailMessage, 0, len(uids))
	for msg := range messages {
		parsed, err := fromIMAP(msg, section)
		if err != nil {
			s.log.WithError(err).WithField("uid", msg.Uid).Warn("Failed to parse message body")
		}
		result = append(result, parsed)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}

// MarkSeen adds the \Seen flag to the message with the given UID
func (s *Session) MarkSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark uid %d seen: %w", uid, err)
	}
	return nil
}

// Alive reports whether the connection is still authenticated
func (s *Session) Alive() bool {
	select {
	case <-s.c.LoggedOut():
		return false
	default:
	}
	return s.c.State()&imap.AuthenticatedState != 0
}

// Close logs out and releases the connection
func (s *Session) Close() error {
	if !s.Alive() {
		return nil
	}
	return s.c.Logout()
}
