// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// A provider wraps a real-time transcription service and exposes a uniform
// streaming interface. Once opened, a SessionHandle accepts raw PCM audio and
// emits two streams of transcripts: low-latency partials that drive the live
// interim text, and authoritative finals that extend the session transcript.
//
// A session ends either because the caller closed it or because the remote
// engine ended the stream. In both cases the Partials and Finals channels are
// closed, which is how consumers detect an engine "end".
package stt

import (
	"context"

	"github.com/MrWong99/orato/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Browsers typically capture at
	// 48000 and downsample to 16000 before streaming.
	SampleRate int

	// Channels is the number of interleaved audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the provider fall back to its configured default.
	Language string

	// Keywords is a list of vocabulary hints.
	Keywords []types.KeywordBoost

	// KeepFillers asks the provider to transcribe disfluencies ("um", "uh")
	// rather than cleaning them out of the text. Filler analysis is useless
	// without it.
	KeepFillers bool
}

// SessionHandle represents an open streaming session. All methods must be
// safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM audio. Calling
	// SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns the channel of interim transcripts. It is closed when
	// the session ends.
	Partials() <-chan types.Transcript

	// Finals returns the channel of final transcripts. It is closed when the
	// session ends.
	Finals() <-chan types.Transcript

	// Close terminates the session and releases its resources. After Close
	// returns, Partials and Finals are closed. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller owns
	// the returned handle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
