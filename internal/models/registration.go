package models

// ProfileRequest represents the first registration step payload
type ProfileRequest struct {
	Name        string `json:"name"`
	RollNumber  string `json:"roll_number"`
	PhoneNumber string `json:"phone_number"`
}

// OTPRequest represents the second registration step payload
type OTPRequest struct {
	OTP string `json:"otp"`
}

// FieldUpdateRequest sets one or more form fields; keys are field names
type FieldUpdateRequest map[string]string

// NotificationResponse mirrors registration.Notification
type NotificationResponse struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// RegistrationResponse is the snapshot of one registration session
type RegistrationResponse struct {
	SessionID        string                `json:"session_id"`
	Phase            string                `json:"phase"`
	Name             string                `json:"name"`
	RollNumber       string                `json:"roll_number"`
	PhoneNumber      string                `json:"phone_number"`
	Busy             bool                  `json:"busy"`
	VisibleFields    []string              `json:"visible_fields"`
	LastNotification *NotificationResponse `json:"last_notification,omitempty"`
}

// SubmissionResponse is returned by the profile and OTP steps
type SubmissionResponse struct {
	Succeeded    bool                 `json:"succeeded"`
	Code         string               `json:"code,omitempty"`
	Notification NotificationResponse `json:"notification"`
	Registration RegistrationResponse `json:"registration"`
}
