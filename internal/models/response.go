package models

import "time"

// WebhookAck is the structured JSON body returned to Meta for every webhook
// call. The body always carries the real outcome even when the HTTP status
// is forced to 200 for Meta compliance.
type WebhookAck struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Ack builds a successful webhook acknowledgment.
func Ack(message string) WebhookAck {
	return WebhookAck{Success: true, Message: message, Timestamp: time.Now().Unix()}
}

// AckError builds a failed webhook acknowledgment with a machine-readable
// error code.
func AckError(message, errorCode string) WebhookAck {
	return WebhookAck{Success: false, Message: message, ErrorCode: errorCode, Timestamp: time.Now().Unix()}
}
