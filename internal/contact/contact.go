// Package contact accepts and stores messages from the landing page's contact form.
package contact

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/models"
)

// ErrInvalidMessage wraps every validation failure.
var ErrInvalidMessage = errors.New("invalid contact message")

const maxMessageLength = 4000

// Store persists contact messages.
type Store interface {
	Put(ctx context.Context, msg models.ContactMessage) error
}

// Validate trims the request in place and checks every field.
func Validate(req *models.ContactRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Subject = strings.TrimSpace(req.Subject)
	req.Message = strings.TrimSpace(req.Message)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", req.Name},
		{"email", req.Email},
		{"subject", req.Subject},
		{"message", req.Message},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidMessage, strings.Join(missing, ", "))
	}

	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		return fmt.Errorf("%w: malformed email %q", ErrInvalidMessage, req.Email)
	}
	if len(req.Message) > maxMessageLength {
		return fmt.Errorf("%w: message longer than %d bytes", ErrInvalidMessage, maxMessageLength)
	}
	return nil
}

type Service struct {
	store  Store
	clock  clockwork.Clock
	logger logrus.FieldLogger
}

func NewService(store Store, clock clockwork.Clock, logger logrus.FieldLogger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, clock: clock, logger: logger}
}

// Submit validates req, assigns an id and timestamp, and stores it.
func (s *Service) Submit(ctx context.Context, req models.ContactRequest) (models.ContactMessage, error) {
	if err := Validate(&req); err != nil {
		return models.ContactMessage{}, err
	}

	msg := models.ContactMessage{
		MessageID: uuid.New().String(),
		Name:      req.Name,
		Email:     req.Email,
		Subject:   req.Subject,
		Message:   req.Message,
		CreatedAt: s.clock.Now().UTC(),
	}

	if err := s.store.Put(ctx, msg); err != nil {
		return models.ContactMessage{}, fmt.Errorf("failed to store contact message: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"message_id": msg.MessageID,
		"subject":    msg.Subject,
	}).Info("Contact message stored")

	return msg, nil
}
