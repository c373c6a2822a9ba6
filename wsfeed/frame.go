// Package wsfeed pulls jobs from a remote feed server over WebSocket. A
// Feed dials the server, opens the session with a token hello, and turns
// every job frame the server pushes into a pollable request, so a remote
// feed plugs into a worker exactly like a local queue.
//
// Frames are exchanged in the format negotiated during the hello, JSON by
// default. Frame Data payloads stay JSON in either format so job payloads
// decode the same way end to end.
package wsfeed

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameHello   FrameType = "hello"
	FrameWelcome FrameType = "welcome"
	FrameJob     FrameType = "job"
	FrameErr     FrameType = "error"
	FramePing    FrameType = "ping"
	FramePong    FrameType = "pong"
)

// Frame is the feed message envelope. Every message on a feed connection
// is a Frame, encoded with the session's negotiated codec.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// CorrelID links a reply to the frame it answers.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Data carries the type-specific payload, always as JSON.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in an error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// Well-known error codes.
const (
	ErrCodeBadRequest   = 400
	ErrCodeUnauthorized = 401
	ErrCodeNotFound     = 404
	ErrCodeInternal     = 500
)

// HelloData opens a feed session: the bearer token plus the frame format
// the client wants ("json" or "msgpack").
type HelloData struct {
	Token  string `json:"token,omitempty"`
	Format string `json:"format,omitempty"`
}

// WelcomeData acknowledges a hello with the session the server granted.
type WelcomeData struct {
	SessionID string `json:"session_id"`
	Format    string `json:"format"`
}

// JobData is the payload of a job frame: one job pushed down the feed.
type JobData struct {
	JobID       string          `json:"job_id,omitempty"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// NewFrameID returns a fresh unique frame ID.
func NewFrameID() string { return uuid.NewString() }

// NewHelloFrame opens a session with the given token and format.
func NewHelloFrame(token, format string) (*Frame, error) {
	raw, err := json.Marshal(HelloData{Token: token, Format: format})
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NewFrameID(),
		Type:      FrameHello,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewWelcomeFrame acknowledges a hello. Feed servers and tests build
// these; clients only read them.
func NewWelcomeFrame(correlID, sessionID, format string) (*Frame, error) {
	raw, err := json.Marshal(WelcomeData{SessionID: sessionID, Format: format})
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NewFrameID(),
		Type:      FrameWelcome,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewJobFrame wraps one job for delivery down the feed.
func NewJobFrame(job JobData) (*Frame, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NewFrameID(),
		Type:      FrameJob,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame refuses the frame identified by correlID.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       NewFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewPongFrame answers an application-level ping.
func NewPongFrame(correlID string) *Frame {
	return &Frame{
		ID:        NewFrameID(),
		Type:      FramePong,
		CorrelID:  correlID,
		Timestamp: time.Now().UTC(),
	}
}
