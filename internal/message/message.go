package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message type vocabulary. Outbound types are produced by this service,
// inbound types arrive from the transcription/AI pipeline.
const (
	// Outbound
	TypeAudioChunk = "audio_chunk"
	TypeControl    = "control"

	// Inbound
	TypeTranscriptUpdate = "transcript_update"
	TypeAIResponse       = "ai_response"
	TypeStatus           = "status"
	TypeControlResponse  = "control_response"
	TypeError            = "error"
	TypeSpeakers         = "speakers"
)

// Control actions carried by TypeControl messages.
const (
	ActionMute   = "mute"
	ActionUnmute = "unmute"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// ErrUnknownType is returned when an inbound message carries a type
// outside the vocabulary.
var ErrUnknownType = errors.New("message: unknown message type")

// TypedMessage is the envelope flowing over the session transport in both
// directions. The payload stays raw until a consumer decodes it.
type TypedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AudioChunkPayload carries one encoded audio chunk outbound.
type AudioChunkPayload struct {
	Data       string `json:"data"` // base64 PCM-16
	Timestamp  int64  `json:"timestamp"`
	SequenceID uint64 `json:"sequence_id"`
	Speaker    string `json:"speaker,omitempty"`
}

// ControlPayload carries a session control command outbound.
type ControlPayload struct {
	Action string `json:"action"`
}

// TranscriptUpdatePayload carries a transcription result inbound.
type TranscriptUpdatePayload struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// AIResponsePayload carries an AI insight inbound, optionally with
// synthesized speech.
type AIResponsePayload struct {
	AIText     string  `json:"ai_text"`
	AudioData  string  `json:"audio_data,omitempty"` // base64 encoded
	Confidence float64 `json:"confidence,omitempty"`
}

// StatusPayload carries a pipeline status notification inbound.
type StatusPayload struct {
	Status  string          `json:"status"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ControlResponsePayload acknowledges a control command.
type ControlResponsePayload struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

// ErrorPayload carries an error notification inbound.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SpeakerInfo describes one meeting participant in a speakers roster
// update.
type SpeakerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	IsSpeaking bool   `json:"isSpeaking"`
}

// SpeakersPayload is the roster update sent by the meeting-bot platform.
type SpeakersPayload struct {
	Speakers []SpeakerInfo `json:"speakers"`
}

// New builds a TypedMessage from a payload struct.
func New(msgType string, payload any) (TypedMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return TypedMessage{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}

	return TypedMessage{Type: msgType, Payload: raw}, nil
}

// Encode serializes the envelope for the wire.
func Encode(msg TypedMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode parses a wire frame into a TypedMessage. A frame without a type
// field is a parse error; an unknown type is reported via ErrUnknownType
// so the caller can log and discard it without tearing the channel down.
func Decode(data []byte) (TypedMessage, error) {
	var msg TypedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return TypedMessage{}, fmt.Errorf("failed to decode message: %w", err)
	}

	if msg.Type == "" {
		return TypedMessage{}, fmt.Errorf("message missing type field")
	}

	switch msg.Type {
	case TypeAudioChunk, TypeControl, TypeTranscriptUpdate, TypeAIResponse,
		TypeStatus, TypeControlResponse, TypeError, TypeSpeakers:
		return msg, nil
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// DecodePayload unmarshals the raw payload into the given struct.
func DecodePayload(msg TypedMessage, out any) error {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", msg.Type, err)
	}
	return nil
}
