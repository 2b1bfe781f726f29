package core

import (
	"context"
	"encoding/json"
	"time"
)

// Event types exchanged between services.
const (
	EventPresenceRecorded = "PRESENCE_RECORDED"
	EventActivityRecorded = "ACTIVITY_RECORDED"
	EventAnomalyDetected  = "ANOMALY_DETECTED"
	EventHighRiskStudent  = "HIGH_RISK_STUDENT"
	EventRiskModule       = "RISK_MODULE"

	// Published by the module service.
	EventEnrollmentCreated   = "ENROLLMENT_CREATED"
	EventEnrollmentApproved  = "ENROLLMENT_APPROVED"
	EventEnrollmentRejected  = "ENROLLMENT_REJECTED"
	EventEnrollmentCancelled = "ENROLLMENT_CANCELLED"
)

// Event is the envelope of every message published on the exchange.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent encodes data into an Event of type typ.
func NewEvent(typ string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Timestamp: time.Now().UTC(), Data: raw}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher sends events to the exchange under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event Event) error
}

// EventHandler processes a consumed event. Returning an error rejects the message.
type EventHandler func(ctx context.Context, event Event) error

// Consumer delivers events to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handler EventHandler) error
}

// Payloads

type (
	PresenceRecorded struct {
		PresenceID string `json:"presence_id"`
		StudentID  string `json:"student_id"`
		ModuleID   int64  `json:"module_id"`
		Status     string `json:"status"`
	}

	ActivityRecorded struct {
		ActivityID   string `json:"activity_id"`
		StudentID    string `json:"student_id"`
		ModuleID     int64  `json:"module_id"`
		ActivityType string `json:"activity_type"`
	}

	AnomalyDetected struct {
		AnomalyID   string `json:"anomaly_id"`
		StudentID   string `json:"student_id"`
		ModuleID    int64  `json:"module_id"`
		AnomalyType string `json:"anomaly_type"`
		Severity    string `json:"severity"`
		Description string `json:"description"`
	}

	HighRiskStudent struct {
		StudentID          string  `json:"student_id"`
		ModuleID           int64   `json:"module_id"`
		RiskLevel          string  `json:"risk_level"`
		SuccessProbability float64 `json:"success_probability"`
		DropoutProbability float64 `json:"dropout_probability"`
	}

	RiskModule struct {
		ModuleID       int64   `json:"module_id"`
		RiskScore      float64 `json:"risk_score"`
		AtRiskStudents int     `json:"at_risk_students"`
		TotalStudents  int     `json:"total_students"`
		AverageSuccess float64 `json:"average_success"`
		AverageDropout float64 `json:"average_dropout"`
	}

	EnrollmentChanged struct {
		EnrollmentID int64  `json:"enrollment_id"`
		ModuleID     int64  `json:"module_id"`
		ModuleCode   string `json:"module_code"`
		StudentID    string `json:"student_id"`
		StudentEmail string `json:"student_email"`
		Status       string `json:"status"`
	}
)

// PublishEvent encodes and publishes an event, reporting failures to logger instead of the caller.
func PublishEvent(ctx context.Context, pub Publisher, logger Logger, routingKey, typ string, data interface{}) {
	if pub == nil {
		return
	}
	evt, err := NewEvent(typ, data)
	if err == nil {
		err = pub.Publish(ctx, routingKey, evt)
	}
	if err != nil && logger != nil {
		logger.Warn("publishing "+typ+" event", err)
	}
}
