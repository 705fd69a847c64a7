package mailbox

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-chat-bridge-go/internal/config"
)

// startServer serves an in-memory mailbox on loopback. Messages already in
// INBOX are marked seen, then unread and seen are appended in that order.
func startServer(t *testing.T, unread, seen []string) config.MailConfig {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.New(memory.New())
	srv.AllowInsecureAuth = true
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	c, err := client.Dial(ln.Addr().String())
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login("username", "password"))

	status, err := c.Select("INBOX", false)
	require.NoError(t, err)
	if status.Messages > 0 {
		all := new(imap.SeqSet)
		all.AddRange(1, status.Messages)
		require.NoError(t, c.Store(all, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag}, nil))
	}

	for _, raw := range unread {
		require.NoError(t, c.Append("INBOX", nil, time.Now(), bytes.NewBufferString(raw)))
	}
	for _, raw := range seen {
		require.NoError(t, c.Append("INBOX", []string{imap.SeenFlag}, time.Now(), bytes.NewBufferString(raw)))
	}

	return config.MailConfig{
		Server:   host,
		Port:     portNum,
		Username: "username",
		Password: "password",
		Mailbox:  "INBOX",
		Auth:     config.AuthPassword,
		Timeout:  5 * time.Second,
	}
}

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestSessionFetchAndMarkSeen(t *testing.T) {
	alreadyRead := crlf(`
Subject: old news
Content-Type: text/plain

read already
`)
	cfg := startServer(t, []string{multipartMessage}, []string{alreadyRead})
	ctx := context.Background()

	session, err := NewDialer(cfg, quietLog()).Dial(ctx)
	require.NoError(t, err)
	assert.True(t, session.Alive())

	msgs, err := session.FetchUnread(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.NotZero(t, msg.UID)
	assert.Equal(t, "Alert ✓", msg.Subject)
	assert.Equal(t, "disk usage above 90%", strings.TrimSpace(msg.TextBody))
	assert.Len(t, msg.Attachments, 2)

	again, err := session.FetchUnread(ctx)
	require.NoError(t, err)
	require.Len(t, again, 1, "fetching does not mark the message seen")
	assert.Equal(t, msg.UID, again[0].UID)

	require.NoError(t, session.MarkSeen(ctx, msg.UID))

	after, err := session.FetchUnread(ctx)
	require.NoError(t, err)
	assert.Empty(t, after)

	require.NoError(t, session.Close())
	assert.False(t, session.Alive())
	assert.NoError(t, session.Close(), "closing twice is harmless")
}

func TestSessionMarkSeenPersistsAcrossSessions(t *testing.T) {
	cfg := startServer(t, []string{multipartMessage}, nil)
	ctx := context.Background()
	dialer := NewDialer(cfg, quietLog())

	first, err := dialer.Dial(ctx)
	require.NoError(t, err)
	msgs, err := first.FetchUnread(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, first.MarkSeen(ctx, msgs[0].UID))
	require.NoError(t, first.Close())

	second, err := dialer.Dial(ctx)
	require.NoError(t, err)
	defer second.Close()
	msgs, err = second.FetchUnread(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDialRejectsBadCredentials(t *testing.T) {
	cfg := startServer(t, nil, nil)
	cfg.Password = "wrong"

	_, err := NewDialer(cfg, quietLog()).Dial(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "login", connErr.Op)
}
