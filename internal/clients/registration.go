package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/thiran-symposium/gateway-api/internal/config"
	"github.com/thiran-symposium/gateway-api/internal/metrics"
	"github.com/thiran-symposium/gateway-api/internal/middleware"
	"github.com/thiran-symposium/gateway-api/internal/registration"
	apperrors "github.com/thiran-symposium/gateway-api/pkg/errors"
)

const (
	registerPath  = "api/auth/register"
	verifyOTPPath = "api/auth/verify-otp"

	serviceName = "registration"

	maxResponseBytes = 1 << 20
)

// ErrRejected is the cause when the backend answers with success=false.
var ErrRejected = errors.New("registration backend rejected the request")

// BackendResponse is the envelope both auth endpoints answer with.
type BackendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type registerRequest struct {
	Name        string `json:"name"`
	RollNumber  string `json:"roll_number"`
	PhoneNumber string `json:"phone_number"`
}

type verifyOTPRequest struct {
	OTP        string `json:"otp"`
	RollNumber string `json:"roll_number"`
}

// RegistrationClient talks to the remote registration backend
type RegistrationClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *CircuitBreaker
	logger     logrus.FieldLogger
}

var _ registration.Backend = (*RegistrationClient)(nil)

// NewRegistrationClient creates a new registration backend client
func NewRegistrationClient(cfg *config.RegistrationConfig, logger logrus.FieldLogger) *RegistrationClient {
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxConnsPerHost:     20,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &RegistrationClient{
		baseURL:    cfg.BackendURL,
		httpClient: httpClient,
		breaker:    NewCircuitBreaker(serviceName, cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, nil, logger, countsAgainstBackend),
		logger:     logger,
	}
}

// WithBreaker replaces the circuit breaker
func (c *RegistrationClient) WithBreaker(breaker *CircuitBreaker) *RegistrationClient {
	c.breaker = breaker
	return c
}

// Breaker exposes the circuit breaker so /readyz can report its state
func (c *RegistrationClient) Breaker() *CircuitBreaker {
	return c.breaker
}

// Register submits a participant profile; the backend mails an OTP on success
func (c *RegistrationClient) Register(ctx context.Context, p registration.Profile) error {
	_, err := c.post(ctx, "register", registerPath, registerRequest{
		Name:        p.Name,
		RollNumber:  p.RollNumber,
		PhoneNumber: p.PhoneNumber,
	})
	return err
}

// VerifyOTP confirms the OTP mailed for rollNumber
func (c *RegistrationClient) VerifyOTP(ctx context.Context, rollNumber, otp string) error {
	_, err := c.post(ctx, "verify_otp", verifyOTPPath, verifyOTPRequest{
		OTP:        otp,
		RollNumber: rollNumber,
	})
	return err
}

func (c *RegistrationClient) post(ctx context.Context, operation, path string, body interface{}) (*BackendResponse, error) {
	ctx, span := middleware.StartSpan(ctx, "registration."+operation)
	defer span.End()

	var resp *BackendResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.doRequest(ctx, operation, path, body)
		return callErr
	})
	if errors.Is(err, ErrCircuitOpen) {
		err = apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, "registration backend temporarily unavailable", err)
	}
	if err != nil {
		middleware.RecordError(span, err)
		span.SetStatus(codes.Error, "registration backend call failed")
		c.logger.WithError(err).WithField("operation", operation).Warn("Registration backend call failed")
		return nil, err
	}

	return resp, nil
}

func (c *RegistrationClient) doRequest(ctx context.Context, operation, path string, body interface{}) (*BackendResponse, error) {
	start := time.Now()
	url := c.baseURL + path

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	middleware.InjectHeaders(ctx, req.Header)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordBackendCall(serviceName, operation, 0, time.Since(start))
		return nil, transportError(err)
	}
	defer httpResp.Body.Close()

	metrics.RecordBackendCall(serviceName, operation, httpResp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, "failed to read registration backend response", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		code := apperrors.CodeUpstreamRejected
		if httpResp.StatusCode >= 500 {
			code = apperrors.CodeUpstreamUnavailable
		}
		return nil, apperrors.NewAppErrorf(code, nil, "registration backend returned status %d", httpResp.StatusCode)
	}

	var result BackendResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, apperrors.NewAppError(apperrors.CodeUpstreamMalformed, "malformed registration backend response", err)
	}

	if !result.Success {
		return &result, apperrors.NewAppError(apperrors.CodeUpstreamRejected, "registration backend reported failure", ErrRejected)
	}

	return &result, nil
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.NewAppError(apperrors.CodeUpstreamTimeout, "registration backend timed out", err)
	}
	return apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, "registration backend unreachable", err)
}

// countsAgainstBackend keeps business rejections out of the breaker's failure count.
func countsAgainstBackend(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	code, ok := apperrors.CodeOf(err)
	if !ok {
		return true
	}
	switch code {
	case apperrors.CodeUpstreamTimeout, apperrors.CodeUpstreamUnavailable, apperrors.CodeUpstreamMalformed:
		return true
	default:
		return false
	}
}
