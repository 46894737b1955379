// Package audit records security-relevant portal events as structured JSON,
// separate from the application log.
package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jwalitptl/clinic-portal/config"
	"github.com/jwalitptl/clinic-portal/internal/model"
)

type Trail struct {
	logger *zap.Logger
}

// New builds a production JSON logger writing to cfg.OutputPaths. A disabled
// trail discards everything.
func New(cfg config.AuditConfig) (*Trail, error) {
	if !cfg.Enabled {
		return NewWithLogger(zap.NewNop()), nil
	}

	zc := zap.NewProductionConfig()
	zc.Sampling = nil
	zc.DisableCaller = true
	zc.DisableStacktrace = true
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build audit logger: %w", err)
	}
	return NewWithLogger(logger), nil
}

func NewWithLogger(l *zap.Logger) *Trail {
	return &Trail{logger: l.With(zap.String("stream", "audit"))}
}

func actor(identity model.Identity) zap.Field {
	return zap.Dict("actor",
		zap.String("role", string(identity.Role)),
		zap.Int64("id", identity.ID()),
		zap.String("email", identity.Email()),
	)
}

func (t *Trail) Login(identity model.Identity, ip string) {
	t.logger.Info("login", actor(identity), zap.String("ip", ip))
}

func (t *Trail) LoginFailed(role model.Role, email, ip, reason string) {
	t.logger.Warn("login_failed",
		zap.String("role", string(role)),
		zap.String("email", email),
		zap.String("ip", ip),
		zap.String("reason", reason),
	)
}

func (t *Trail) Registered(identity model.Identity, ip string) {
	t.logger.Info("register", actor(identity), zap.String("ip", ip))
}

func (t *Trail) Logout(identity model.Identity) {
	t.logger.Info("logout", actor(identity))
}

// ForcedLogout matches session.ExpireHook.
func (t *Trail) ForcedLogout(_ context.Context, identity model.Identity, sessionID string) {
	t.logger.Warn("forced_logout", actor(identity), zap.String("session_id", sessionID))
}

// AppointmentChanged records a status change made by a doctor or admin.
func (t *Trail) AppointmentChanged(identity model.Identity, appointmentID int64, to model.AppointmentStatus) {
	t.logger.Info("appointment_status", actor(identity),
		zap.Int64("appointment_id", appointmentID),
		zap.String("status", string(to)),
	)
}

// AdminAction records account and appointment mutations from the admin panel.
func (t *Trail) AdminAction(identity model.Identity, action, resource string, id int64) {
	t.logger.Info("admin_action", actor(identity),
		zap.String("action", action),
		zap.String("resource", resource),
		zap.Int64("resource_id", id),
	)
}

func (t *Trail) Sync() error {
	return t.logger.Sync()
}
