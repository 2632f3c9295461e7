package models

import "time"

// ContactMessage is a stored contact form submission
type ContactMessage struct {
	MessageID string    `json:"message_id" dynamodbav:"message_id"` // Primary Key
	Name      string    `json:"name" dynamodbav:"name"`
	Email     string    `json:"email" dynamodbav:"email"`
	Subject   string    `json:"subject" dynamodbav:"subject"`
	Message   string    `json:"message" dynamodbav:"message"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

// ContactRequest represents contact form payload
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// ContactResponse is returned once a message is stored
type ContactResponse struct {
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}
