// Package email notifies patients and doctors about booking events over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/clinic-portal/config"
	"github.com/jwalitptl/clinic-portal/internal/model"
)

type Service interface {
	SendBookingRequested(ctx context.Context, patient model.User, doctor model.Doctor, appt model.Appointment) error
	SendAppointmentCancelled(ctx context.Context, appt model.Appointment, reason string) error
}

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends in the background so a slow SMTP server never holds a page.
type Mailer struct {
	from   string
	sender Sender
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewMailer(cfg config.EmailConfig, logger zerolog.Logger) *Mailer {
	return NewMailerWithSender(cfg.From, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), logger)
}

func NewMailerWithSender(from string, sender Sender, logger zerolog.Logger) *Mailer {
	return &Mailer{from: from, sender: sender, logger: logger}
}

// New picks the SMTP mailer or a no-op one depending on cfg.Enabled.
func New(cfg config.EmailConfig, logger zerolog.Logger) Service {
	if !cfg.Enabled {
		return Noop{}
	}
	return NewMailer(cfg, logger)
}

var (
	bookingPatientTmpl = template.Must(template.New("booking_patient").Parse(
		`<p>Hello {{.Patient.Name}},</p>
<p>Your appointment request with {{.Doctor.Name}} ({{.Doctor.Specialization}}) on {{.Appt.Date}} at {{.Appt.AppointmentTime}} has been received and is waiting for confirmation.</p>`))

	bookingDoctorTmpl = template.Must(template.New("booking_doctor").Parse(
		`<p>Hello {{.Doctor.Name}},</p>
<p>{{.Patient.Name}} requested an appointment on {{.Appt.Date}} at {{.Appt.AppointmentTime}}. Please accept or cancel it from your dashboard.</p>`))

	cancelledTmpl = template.Must(template.New("cancelled").Parse(
		`<p>Hello {{.Name}},</p>
<p>Your appointment on {{.Appt.Date}} at {{.Appt.AppointmentTime}}{{with .Doctor}} with {{.}}{{end}} was cancelled.</p>
<p>Reason: {{.Reason}}</p>`))
)

func (m *Mailer) SendBookingRequested(ctx context.Context, patient model.User, doctor model.Doctor, appt model.Appointment) error {
	data := map[string]any{"Patient": patient, "Doctor": doctor, "Appt": appt}

	var msgs []*gomail.Message
	if patient.Email != "" {
		msg, err := m.compose(patient.Email, "Appointment request received", bookingPatientTmpl, data)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if doctor.Email != "" {
		msg, err := m.compose(doctor.Email, "New appointment request", bookingDoctorTmpl, data)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	m.dispatch("booking_requested", msgs...)
	return nil
}

func (m *Mailer) SendAppointmentCancelled(ctx context.Context, appt model.Appointment, reason string) error {
	if appt.User == nil || appt.User.Email == "" {
		return nil
	}
	doctor := ""
	if appt.Doctor != nil {
		doctor = appt.Doctor.Name
	}
	data := map[string]any{"Name": appt.User.Name, "Appt": appt, "Doctor": doctor, "Reason": reason}

	msg, err := m.compose(appt.User.Email, "Appointment cancelled", cancelledTmpl, data)
	if err != nil {
		return err
	}
	m.dispatch("appointment_cancelled", msg)
	return nil
}

func (m *Mailer) compose(to, subject string, tmpl *template.Template, data any) (*gomail.Message, error) {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body.String())
	return msg, nil
}

func (m *Mailer) dispatch(kind string, msgs ...*gomail.Message) {
	if len(msgs) == 0 {
		return
	}
	logger := m.logger.With().Str("mail", kind).Logger()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.sender.DialAndSend(msgs...); err != nil {
			logger.Error().Err(err).Msg("failed to send notification")
			return
		}
		logger.Debug().Int("count", len(msgs)).Msg("notification sent")
	}()
}

// Wait blocks until every queued message was handed to the SMTP server.
func (m *Mailer) Wait() {
	m.wg.Wait()
}

// Noop drops every notification.
type Noop struct{}

func (Noop) SendBookingRequested(context.Context, model.User, model.Doctor, model.Appointment) error {
	return nil
}

func (Noop) SendAppointmentCancelled(context.Context, model.Appointment, string) error {
	return nil
}
