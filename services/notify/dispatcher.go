// Package notify renders and delivers transactional email.
package notify

import (
	"context"
	"fmt"
	"strings"

	"eventhub/data/models"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// DispatchError reports a failed delivery to one recipient.
type DispatchError struct {
	Template  Template
	Recipient string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s to %s: %v", e.Template, e.Recipient, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

type UserLookup interface {
	GetUsersByIDs(ctx context.Context, ids []int64) ([]models.User, error)
}

// Report summarises a fan-out. Err aggregates every *DispatchError.
type Report struct {
	Sent   int
	Failed int
	Err    error
}

type Stats struct {
	Sent   int64
	Failed int64
}

type Dispatcher struct {
	mailer    Mailer
	renderer  *Renderer
	users     UserLookup
	log       logrus.FieldLogger
	publicURL string

	sent   atomic.Int64
	failed atomic.Int64
}

func NewDispatcher(m Mailer, r *Renderer, users UserLookup, publicURL string, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		mailer:    m,
		renderer:  r,
		users:     users,
		log:       log.WithField("component", "notify"),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (d *Dispatcher) SendVerification(ctx context.Context, u models.User, token string) error {
	return d.send(ctx, TemplateVerification, u.Email, Data{URL: d.publicURL + "/verify-email/" + token})
}

func (d *Dispatcher) SendPasswordReset(ctx context.Context, u models.User, token string) error {
	return d.send(ctx, TemplatePasswordReset, u.Email, Data{URL: d.publicURL + "/reset-password/" + token})
}

func (d *Dispatcher) SendRegistrationConfirmation(ctx context.Context, e models.Event, u models.User) error {
	return d.send(ctx, TemplateRegistrationConfirmation, u.Email, Data{Event: e})
}

func (d *Dispatcher) SendReminder(ctx context.Context, e models.Event, u models.User, minutesBefore int) error {
	return d.send(ctx, TemplateReminder, u.Email, Data{Event: e, MinutesBefore: minutesBefore})
}

// SendEventUpdate mails every current attendee of e. A failed recipient does
// not stop delivery to the others.
func (d *Dispatcher) SendEventUpdate(ctx context.Context, e models.Event, updateType string) Report {
	if len(e.Attendees) == 0 {
		return Report{}
	}

	attendees, err := d.users.GetUsersByIDs(ctx, e.Attendees)
	if err != nil {
		d.log.WithError(err).WithField("event_id", e.ID).Error("could not load attendees for event update")
		return Report{Err: fmt.Errorf("load attendees: %w", err)}
	}

	subject, html, err := d.renderer.Render(TemplateEventUpdate, Data{Event: e, UpdateType: updateType})
	if err != nil {
		return Report{Err: err}
	}

	var report Report
	var errs *multierror.Error
	for _, u := range attendees {
		if err := d.deliver(ctx, TemplateEventUpdate, Message{To: u.Email, Subject: subject, HTML: html}); err != nil {
			report.Failed++
			errs = multierror.Append(errs, err)
			continue
		}
		report.Sent++
	}
	report.Err = errs.ErrorOrNil()

	d.log.WithFields(logrus.Fields{
		"event_id": e.ID,
		"sent":     report.Sent,
		"failed":   report.Failed,
	}).Info("event update dispatched")
	return report
}

func (d *Dispatcher) Stats() Stats {
	return Stats{Sent: d.sent.Load(), Failed: d.failed.Load()}
}

func (d *Dispatcher) send(ctx context.Context, name Template, to string, data Data) error {
	subject, html, err := d.renderer.Render(name, data)
	if err != nil {
		return err
	}
	return d.deliver(ctx, name, Message{To: to, Subject: subject, HTML: html})
}

func (d *Dispatcher) deliver(ctx context.Context, name Template, msg Message) error {
	entry := d.log.WithFields(logrus.Fields{"template": name, "recipient": msg.To})

	if err := d.mailer.Send(ctx, msg); err != nil {
		d.failed.Inc()
		entry.WithError(err).Warn("email delivery failed")
		return &DispatchError{Template: name, Recipient: msg.To, Err: err}
	}

	d.sent.Inc()
	entry.Debug("email sent")
	return nil
}
