package models

import (
	"testing"
	"time"
)

func TestInboundEventAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	evt := InboundEvent{Timestamp: now.Add(-time.Hour).Unix()}
	if age := evt.Age(now); age != time.Hour {
		t.Errorf("expected age 1h, got %v", age)
	}

	noTimestamp := InboundEvent{}
	if age := noTimestamp.Age(now); age != 0 {
		t.Errorf("expected zero age without a timestamp, got %v", age)
	}
}

func TestWebhookAckConstructors(t *testing.T) {
	ok := Ack("accepted")
	if !ok.Success || ok.Message != "accepted" || ok.ErrorCode != "" {
		t.Errorf("unexpected success ack: %+v", ok)
	}
	if ok.Timestamp == 0 {
		t.Error("expected timestamp to be set")
	}

	bad := AckError("nope", "malformed_payload")
	if bad.Success || bad.ErrorCode != "malformed_payload" {
		t.Errorf("unexpected error ack: %+v", bad)
	}
}
