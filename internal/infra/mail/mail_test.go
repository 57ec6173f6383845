package mail

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainMail "membership_billing/internal/domain/mail"
)

var notice = domainMail.Message{
	From:    "treasurer@example.org",
	To:      "member@example.org",
	Cc:      "archive@example.org",
	Subject: "Membership fee 2026",
	Body:    "Amount: 30.00 EUR\nFrom now on, use the reference number.\n",
}

func TestMboxSenderAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.mbox")
	s := NewMboxSender(path)
	s.now = func() time.Time { return time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC) }

	require.NoError(t, s.Send(context.Background(), notice))
	require.NoError(t, s.Send(context.Background(), notice))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Equal(t, 2, strings.Count(content, "From treasurer@example.org Mon Oct 19 06:00:00 2026\n"))
	assert.Contains(t, content, "Subject: Membership fee 2026")
	assert.Contains(t, content, "Cc: archive@example.org")
	assert.Contains(t, content, ">From now on")
	assert.NotContains(t, content, "\r\n")
}

func TestLogSender(t *testing.T) {
	l, hook := test.NewNullLogger()
	s := NewLogSender(logrus.NewEntry(l))

	require.NoError(t, s.Send(context.Background(), notice))
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, "member@example.org", hook.AllEntries()[0].Data["to"])
}

type countingSender struct{ n int }

func (c *countingSender) Send(context.Context, domainMail.Message) error {
	c.n++
	return nil
}

func TestThrottledSenderHonoursContext(t *testing.T) {
	next := &countingSender{}
	s := NewThrottledSender(next, 1)

	require.NoError(t, s.Send(context.Background(), notice))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, notice)
	assert.Error(t, err)
	assert.Equal(t, 1, next.n)
}

func TestNewSelectsTransport(t *testing.T) {
	l, _ := test.NewNullLogger()
	log := logrus.NewEntry(l)

	s := New(Config{MboxPath: filepath.Join(t.TempDir(), "x.mbox")}, log)
	assert.IsType(t, &MboxSender{}, s)

	s = New(Config{SMTPHost: "localhost", SMTPPort: 25}, log)
	assert.IsType(t, &SMTPSender{}, s)

	s = New(Config{RatePerMinute: 10}, log)
	th, ok := s.(*ThrottledSender)
	require.True(t, ok)
	assert.IsType(t, &LogSender{}, th.next)
}
