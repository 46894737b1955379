package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/quotedprintable"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/clinic-portal/config"
	"github.com/jwalitptl/clinic-portal/internal/model"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []*gomail.Message
	err  error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m...)
	return c.err
}

// body returns the decoded HTML body of a single-part message.
func body(t *testing.T, m *gomail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)

	_, encoded, found := strings.Cut(buf.String(), "\r\n\r\n")
	require.True(t, found)
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(encoded)))
	require.NoError(t, err)
	return string(decoded)
}

func TestSendBookingRequestedNotifiesBothSides(t *testing.T) {
	sender := &captureSender{}
	mailer := NewMailerWithSender("clinic@example.com", sender, zerolog.Nop())

	patient := model.User{ID: 1, Name: "Jane Roe", Email: "jane@example.com"}
	doctor := model.Doctor{ID: 2, Name: "Dr. Ada", Email: "ada@example.com", Specialization: "Cardiology"}
	appt := model.Appointment{ID: 3, AppointmentDate: "2025-06-03T00:00:00.000000Z", AppointmentTime: "09:30:00"}

	require.NoError(t, mailer.SendBookingRequested(context.Background(), patient, doctor, appt))
	mailer.Wait()

	require.Len(t, sender.msgs, 2)
	assert.Equal(t, []string{"jane@example.com"}, sender.msgs[0].GetHeader("To"))
	assert.Equal(t, []string{"Appointment request received"}, sender.msgs[0].GetHeader("Subject"))
	assert.Equal(t, []string{"clinic@example.com"}, sender.msgs[0].GetHeader("From"))
	assert.Contains(t, body(t, sender.msgs[0]), "2025-06-03")
	assert.Equal(t, []string{"ada@example.com"}, sender.msgs[1].GetHeader("To"))
}

func TestSendAppointmentCancelledEscapesReason(t *testing.T) {
	sender := &captureSender{}
	mailer := NewMailerWithSender("clinic@example.com", sender, zerolog.Nop())

	appt := model.Appointment{
		AppointmentDate: "2025-06-03",
		AppointmentTime: "10:00",
		User:            &model.User{Name: "Jane", Email: "jane@example.com"},
		Doctor:          &model.Doctor{Name: "Dr. Ada"},
	}
	require.NoError(t, mailer.SendAppointmentCancelled(context.Background(), appt, "<b>sick</b>"))
	mailer.Wait()

	require.Len(t, sender.msgs, 1)
	html := body(t, sender.msgs[0])
	assert.Contains(t, html, "with Dr. Ada")
	assert.Contains(t, html, "&lt;b&gt;sick&lt;/b&gt;")
}

func TestSendAppointmentCancelledWithoutPatientEmail(t *testing.T) {
	sender := &captureSender{}
	mailer := NewMailerWithSender("clinic@example.com", sender, zerolog.Nop())

	require.NoError(t, mailer.SendAppointmentCancelled(context.Background(), model.Appointment{}, "reason"))
	mailer.Wait()
	assert.Empty(t, sender.msgs)
}

func TestSendFailureIsLoggedNotReturned(t *testing.T) {
	var logs bytes.Buffer
	sender := &captureSender{err: errors.New("smtp down")}
	mailer := NewMailerWithSender("clinic@example.com", sender, zerolog.New(&logs))

	err := mailer.SendBookingRequested(context.Background(), model.User{Email: "a@b.c"}, model.Doctor{}, model.Appointment{})
	require.NoError(t, err)
	mailer.Wait()
	assert.Contains(t, logs.String(), "smtp down")
}

func TestNewDisabledIsNoop(t *testing.T) {
	svc := New(config.EmailConfig{Enabled: false}, zerolog.Nop())
	assert.IsType(t, Noop{}, svc)

	svc = New(config.EmailConfig{Enabled: true, Host: "localhost", Port: 1025}, zerolog.Nop())
	assert.IsType(t, &Mailer{}, svc)
}
