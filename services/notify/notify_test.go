package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"eventhub/data/models"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	mu      sync.Mutex
	sent    []Message
	failFor map[string]bool
}

func (m *fakeMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[msg.To] {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fakeUsers map[int64]models.User

func (f fakeUsers) GetUsersByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if u, ok := f[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func newTestRenderer(t *testing.T, locale string) *Renderer {
	t.Helper()
	c, err := LoadCatalog()
	require.NoError(t, err)
	r, err := NewRenderer(c, locale)
	require.NoError(t, err)
	return r
}

func testEvent() models.Event {
	return models.Event{
		ID:          4,
		Title:       "Go & Coffee",
		Description: "Morning talks",
		StartDate:   time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		Location:    models.Location{Name: "Café Nord", Address: "Hauptstr. 1"},
		Attendees:   []int64{1, 2, 3},
	}
}

func TestRenderSubjects(t *testing.T) {
	r := newTestRenderer(t, "en-US")
	e := testEvent()

	var tests = []struct {
		name     Template
		data     Data
		subject  string
		contains []string
	}{
		{
			name:     TemplateVerification,
			data:     Data{URL: "https://example.com/verify-email/abc"},
			subject:  "Verify Your Email Address",
			contains: []string{`href="https://example.com/verify-email/abc"`, "expire in 24 hours"},
		},
		{
			name:     TemplatePasswordReset,
			data:     Data{URL: "https://example.com/reset-password/xyz"},
			subject:  "Reset Your Password",
			contains: []string{"expire in 10 minutes"},
		},
		{
			name:     TemplateRegistrationConfirmation,
			data:     Data{Event: e},
			subject:  "Registration Confirmed: Go & Coffee",
			contains: []string{"Go &amp; Coffee", "Café Nord", "Tue, 01 Sep 2026 09:00 UTC"},
		},
		{
			name:     TemplateEventUpdate,
			data:     Data{Event: e, UpdateType: "schedule"},
			subject:  "Event Update: Go & Coffee",
			contains: []string{"schedule"},
		},
		{
			name:     TemplateReminder,
			data:     Data{Event: e, MinutesBefore: 30},
			subject:  "Reminder: Go & Coffee starts in 30 minutes",
			contains: []string{"starts in 30 minutes"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			subject, html, err := r.Render(tt.name, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
			for _, s := range tt.contains {
				assert.Contains(t, html, s)
			}
		})
	}
}

func TestRenderOnlineFallbackAndLocale(t *testing.T) {
	e := testEvent()
	e.Location = models.Location{}

	r := newTestRenderer(t, "de")
	subject, html, err := r.Render(TemplateReminder, Data{Event: e, MinutesBefore: 15})
	require.NoError(t, err)
	assert.Equal(t, "Erinnerung: Go & Coffee beginnt in 15 Minuten", subject)
	assert.Contains(t, html, "Online")

	r = newTestRenderer(t, "fr-FR")
	subject, _, err = r.Render(TemplateVerification, Data{})
	require.NoError(t, err)
	assert.Equal(t, "Verify Your Email Address", subject)
}

func TestLoadCatalogFSRequiresBaseLocale(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/de-DE.yaml": {Data: []byte("locale: de-DE\nmessages:\n  a: b\n")},
	}
	_, err := LoadCatalogFS(fsys)
	assert.EqualError(t, err, "base locale en-US is not defined in catalogs")

	fsys = fstest.MapFS{
		"locales/en-US.yaml": {Data: []byte("locale: en-GB\nmessages:\n  a: b\n")},
	}
	_, err = LoadCatalogFS(fsys)
	assert.ErrorContains(t, err, "must match file name")
}

func TestSendEventUpdateContinuesPastFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	mailer := &fakeMailer{failFor: map[string]bool{"b@example.com": true}}
	users := fakeUsers{
		1: {ID: 1, Email: "a@example.com"},
		2: {ID: 2, Email: "b@example.com"},
		3: {ID: 3, Email: "c@example.com"},
	}
	d := NewDispatcher(mailer, newTestRenderer(t, "en-US"), users, "https://example.com", logger)

	report := d.SendEventUpdate(context.Background(), testEvent(), "details")

	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)
	require.Error(t, report.Err)

	var merr *multierror.Error
	require.True(t, errors.As(report.Err, &merr))
	require.Len(t, merr.Errors, 1)
	var derr *DispatchError
	require.True(t, errors.As(merr.Errors[0], &derr))
	assert.Equal(t, "b@example.com", derr.Recipient)
	assert.Equal(t, TemplateEventUpdate, derr.Template)

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "a@example.com", mailer.sent[0].To)
	assert.Equal(t, "c@example.com", mailer.sent[1].To)
	assert.Equal(t, Stats{Sent: 2, Failed: 1}, d.Stats())

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["recipient"] == "b@example.com" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestSendEventUpdateWithoutAttendees(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, newTestRenderer(t, "en-US"), fakeUsers{}, "", nil)

	e := testEvent()
	e.Attendees = nil
	assert.Equal(t, Report{}, d.SendEventUpdate(context.Background(), e, "details"))
	assert.Empty(t, mailer.sent)
}

func TestSendVerificationLink(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, newTestRenderer(t, "en-US"), fakeUsers{}, "https://events.example.com/", nil)

	require.NoError(t, d.SendVerification(context.Background(), models.User{Email: "new@example.com"}, "tok123"))
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].HTML, "https://events.example.com/verify-email/tok123")
}

func TestSendReminderFailure(t *testing.T) {
	mailer := &fakeMailer{failFor: map[string]bool{"x@example.com": true}}
	d := NewDispatcher(mailer, newTestRenderer(t, "en-US"), fakeUsers{}, "", nil)

	err := d.SendReminder(context.Background(), testEvent(), models.User{Email: "x@example.com"}, 30)
	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, TemplateReminder, derr.Template)
}

func TestSMTPMailerComposesMessage(t *testing.T) {
	m := NewSMTPMailer("smtp.example.com", 587, "user", "pass", "events@example.com")

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	require.NoError(t, m.Send(context.Background(), Message{To: "a@example.com", Subject: "Grüße", HTML: "<p>hi</p>"}))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"a@example.com"}, gotTo)
	assert.True(t, strings.HasSuffix(string(gotMsg), "\r\n\r\n<p>hi</p>"))
	assert.Contains(t, string(gotMsg), "Subject: =?utf-8?q?")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Send(ctx, Message{To: "a@example.com"}), context.Canceled)
}
