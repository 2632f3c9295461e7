package routes

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/logging"
	"github.com/thiran-symposium/gateway-api/internal/metrics"
	"github.com/thiran-symposium/gateway-api/internal/models"
	"github.com/thiran-symposium/gateway-api/internal/registration"
	"github.com/thiran-symposium/gateway-api/internal/sessions"
	apperrors "github.com/thiran-symposium/gateway-api/pkg/errors"
)

// RegistrationHandler exposes one registration form per session
type RegistrationHandler struct {
	sessions *sessions.Manager
	logger   logrus.FieldLogger
}

func NewRegistrationHandler(manager *sessions.Manager, logger logrus.FieldLogger) *RegistrationHandler {
	return &RegistrationHandler{sessions: manager, logger: logger}
}

// Create opens a new empty form
func (h *RegistrationHandler) Create(c *fiber.Ctx) error {
	s := h.sessions.Create()
	logging.WithSession(h.logger, s.ID.String()).Debug("Registration session created")
	return c.Status(fiber.StatusCreated).JSON(toRegistrationResponse(s))
}

func (h *RegistrationHandler) Get(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(toRegistrationResponse(s))
}

// Update sets form fields; the body maps field names to values
func (h *RegistrationHandler) Update(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	var req models.FieldUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "Invalid request body", err)
	}
	if len(req) == 0 {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "No fields to update", nil)
	}

	values := make(map[registration.Field]string, len(req))
	for name, value := range req {
		field, err := registration.ParseField(name)
		if err != nil {
			return registrationError(err)
		}
		values[field] = value
	}

	if err := s.Controller.SetFields(values); err != nil {
		return registrationError(err)
	}

	return c.JSON(toRegistrationResponse(s))
}

// SubmitProfile sends the profile step. An empty body submits the fields
// already stored on the form.
func (h *RegistrationHandler) SubmitProfile(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	var req models.ProfileRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewAppError(apperrors.CodeBadRequest, "Invalid request body", err)
		}
	}

	profile := registration.Profile{
		Name:        req.Name,
		RollNumber:  req.RollNumber,
		PhoneNumber: req.PhoneNumber,
	}
	if profile == (registration.Profile{}) {
		profile = s.Controller.State().Profile()
	}

	outcome, err := s.Controller.SubmitProfile(c.UserContext(), profile)
	if err != nil {
		metrics.RecordSubmission("profile", "refused")
		return registrationError(err)
	}

	return h.respond(c, s, "profile", outcome)
}

// SubmitOTP sends the OTP step for the roll number already on the form
func (h *RegistrationHandler) SubmitOTP(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}

	var req models.OTPRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewAppError(apperrors.CodeBadRequest, "Invalid request body", err)
		}
	}

	otp := req.OTP
	if otp == "" {
		otp = s.Controller.State().OTP
	}

	outcome, err := s.Controller.SubmitOTP(c.UserContext(), otp)
	if err != nil {
		metrics.RecordSubmission("otp", "refused")
		return registrationError(err)
	}

	return h.respond(c, s, "otp", outcome)
}

func (h *RegistrationHandler) Delete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return sessionNotFound(err)
	}
	if err := h.sessions.Delete(id); err != nil {
		return sessionNotFound(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *RegistrationHandler) respond(c *fiber.Ctx, s *sessions.Session, step string, outcome registration.Outcome) error {
	resp := models.SubmissionResponse{
		Succeeded:    outcome.Succeeded,
		Notification: toNotification(outcome.Notification),
		Registration: toRegistrationResponse(s),
	}

	if !outcome.Succeeded {
		metrics.RecordSubmission(step, "failed")
		resp.Code = string(apperrors.CodeRegistrationFailed)
		return c.Status(apperrors.HTTPStatusMap[apperrors.CodeRegistrationFailed]).JSON(resp)
	}

	metrics.RecordSubmission(step, "succeeded")
	return c.JSON(resp)
}

func (h *RegistrationHandler) session(c *fiber.Ctx) (*sessions.Session, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, sessionNotFound(err)
	}
	s, err := h.sessions.Get(id)
	if err != nil {
		return nil, sessionNotFound(err)
	}
	return s, nil
}

func sessionNotFound(cause error) error {
	return apperrors.NewAppError(apperrors.CodeNotFound, "Registration session not found", cause)
}

// registrationError maps controller contract violations to API errors
func registrationError(err error) error {
	switch {
	case errors.Is(err, registration.ErrBusy):
		return apperrors.NewAppError(apperrors.CodeSubmissionInFlight, "A submission for this registration is already in progress", err)
	case errors.Is(err, registration.ErrWrongPhase):
		return apperrors.NewAppError(apperrors.CodeWrongPhase, "This step is not available in the current phase", err)
	case errors.Is(err, registration.ErrFieldLocked):
		return apperrors.NewAppError(apperrors.CodeFieldLocked, "This field cannot be edited in the current phase", err)
	case errors.Is(err, registration.ErrInvalidProfile),
		errors.Is(err, registration.ErrMissingOTP),
		errors.Is(err, registration.ErrUnknownField):
		return apperrors.NewAppError(apperrors.CodeBadRequest, err.Error(), err)
	case errors.Is(err, registration.ErrClosed):
		return sessionNotFound(err)
	default:
		return err
	}
}

func toNotification(n registration.Notification) models.NotificationResponse {
	return models.NotificationResponse{Level: string(n.Level), Message: n.Message}
}

func toRegistrationResponse(s *sessions.Session) models.RegistrationResponse {
	state := s.Controller.State()

	visible := s.Controller.VisibleFields()
	fields := make([]string, len(visible))
	for i, f := range visible {
		fields[i] = string(f)
	}

	resp := models.RegistrationResponse{
		SessionID:     s.ID.String(),
		Phase:         state.Phase.String(),
		Name:          state.Name,
		RollNumber:    state.RollNumber,
		PhoneNumber:   state.PhoneNumber,
		Busy:          s.Controller.Busy(),
		VisibleFields: fields,
	}
	if n := s.LastNotification(); n != nil {
		note := toNotification(*n)
		resp.LastNotification = &note
	}
	return resp
}
