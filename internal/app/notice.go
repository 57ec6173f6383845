package app

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"membership_billing/internal/domain/billing"
	"membership_billing/internal/domain/mail"
	"membership_billing/internal/domain/membership"
)

const noticeDateLayout = "02.01.2006"

const billBody = `Hello {{.Name}},

{{if .Reminder -}}
our records show that the membership fee for the period
{{date .CycleStart}} - {{date .CycleEnd}} is still unpaid. Please pay the
remaining amount by the due date below. If you have already paid, please
ignore this reminder.
{{- else -}}
this is the membership fee invoice for the period
{{date .CycleStart}} - {{date .CycleEnd}}.
{{- end}}

Amount:           {{money .Amount}} EUR
Due date:         {{date .DueDate}}
Reference number: {{.ReferenceNumber}}
Account (IBAN):   {{.IBAN}}
BIC:              {{.BIC}}

Please always use the reference number when paying.

Membership id: {{.MembershipID}}
`

// NoticeData is what subject and body templates can refer to.
type NoticeData struct {
	MembershipID    int64
	Name            string
	Amount          decimal.Decimal
	DueDate         time.Time
	ReferenceNumber string
	IBAN            string
	BIC             string
	CycleStart      time.Time
	CycleEnd        time.Time
	Reminder        bool
}

// NoticeRenderer turns a bill into a mail message.
type NoticeRenderer struct {
	cfg             BillingConfig
	billSubject     *template.Template
	reminderSubject *template.Template
	body            *template.Template
}

var noticeFuncs = template.FuncMap{
	"date":  func(t time.Time) string { return t.Format(noticeDateLayout) },
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
}

// NewNoticeRenderer parses the configured subject templates.
func NewNoticeRenderer(cfg BillingConfig) (*NoticeRenderer, error) {
	bs, err := template.New("bill_subject").Funcs(noticeFuncs).Parse(cfg.BillSubject)
	if err != nil {
		return nil, fmt.Errorf("parse bill subject: %w", err)
	}
	rs, err := template.New("reminder_subject").Funcs(noticeFuncs).Parse(cfg.ReminderSubject)
	if err != nil {
		return nil, fmt.Errorf("parse reminder subject: %w", err)
	}
	body := template.Must(template.New("bill_body").Funcs(noticeFuncs).Parse(billBody))
	return &NoticeRenderer{cfg: cfg, billSubject: bs, reminderSubject: rs, body: body}, nil
}

// Render builds the message for bill b of cycle c, addressed to the
// membership's billing address.
func (r *NoticeRenderer) Render(m *membership.Membership, c *billing.Cycle, b *billing.Bill) (mail.Message, error) {
	data := NoticeData{
		MembershipID:    m.ID,
		Name:            m.Name,
		Amount:          b.Amount,
		DueDate:         b.DueDate,
		ReferenceNumber: b.ReferenceNumber,
		IBAN:            r.cfg.IBAN,
		BIC:             r.cfg.BIC,
		CycleStart:      c.Start,
		CycleEnd:        c.End,
		Reminder:        b.IsReminder(),
	}

	subject := r.billSubject
	if b.IsReminder() {
		subject = r.reminderSubject
	}

	var subj, body bytes.Buffer
	if err := subject.Execute(&subj, data); err != nil {
		return mail.Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := r.body.Execute(&body, data); err != nil {
		return mail.Message{}, fmt.Errorf("render body: %w", err)
	}

	return mail.Message{
		From:    r.cfg.FromEmail,
		To:      m.BillingAddress(),
		Cc:      r.cfg.CCEmail,
		Subject: subj.String(),
		Body:    body.String(),
	}, nil
}
