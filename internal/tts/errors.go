package tts

import (
	"errors"
	"fmt"

	"github.com/example/go-tts-unlimited/internal/normalize"
	"github.com/example/go-tts-unlimited/internal/remote"
)

var (
	ErrEmptyPrompt  = errors.New("prompt is empty")
	ErrMissingVoice = errors.New("voice is not selected")
	ErrUnknownVoice = errors.New("unknown voice")
	ErrFlagged      = errors.New("prompt flagged as inappropriate")
	ErrClassifier   = errors.New("prompt classification failed")
	ErrUnexpected   = errors.New("unexpected generation failure")
)

// Messages shown to the user. Raw error detail is only logged.
const (
	MsgEmptyPrompt       = "Prompt cannot be empty."
	MsgMissingVoice      = "Please select a voice."
	MsgFlagged           = "Error: The prompt was flagged as inappropriate and cannot be processed."
	MsgClassifier        = "There was an error. Please wait for a second and try again."
	MsgDataURLDecode     = "Failed to decode audio data URL returned by API."
	MsgNoAudio           = "No audio returned"
	MsgUnexpectedString  = "API returned an unexpected string result. Expected audio URL, local path, or bytes."
	MsgUnsupportedResult = "Unsupported response from the TTS API."
	MsgGenerationFailed  = "Failed to generate audio. Please wait for a second and try again."
	MsgUnexpected        = "An unexpected error occurred during audio generation. Please wait for a second and try again."
)

// UserMessage maps an orchestration error to the status shown to the user.
func UserMessage(err error, voice string) string {
	switch {
	case errors.Is(err, ErrEmptyPrompt):
		return MsgEmptyPrompt
	case errors.Is(err, ErrMissingVoice):
		return MsgMissingVoice
	case errors.Is(err, ErrUnknownVoice):
		return fmt.Sprintf("Unknown voice %q.", voice)
	case errors.Is(err, ErrFlagged):
		return MsgFlagged
	case errors.Is(err, ErrClassifier):
		return MsgClassifier
	case errors.Is(err, normalize.ErrDataURLDecode):
		return MsgDataURLDecode
	case errors.Is(err, normalize.ErrUnexpectedContentType):
		return MsgNoAudio
	case errors.Is(err, normalize.ErrUnrecognizedString):
		return MsgUnexpectedString
	case errors.Is(err, normalize.ErrUnsupportedResponseType):
		return MsgUnsupportedResult
	case errors.Is(err, normalize.ErrRemoteRequest), errors.Is(err, remote.ErrRequest):
		return MsgGenerationFailed
	default:
		return MsgUnexpected
	}
}

// IsInvalidInput reports whether err was caused by the request itself.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrEmptyPrompt) || errors.Is(err, ErrMissingVoice) || errors.Is(err, ErrUnknownVoice)
}

// IsUpstream reports whether err came from the remote app or its result.
func IsUpstream(err error) bool {
	return errors.Is(err, remote.ErrRequest) ||
		errors.Is(err, normalize.ErrRemoteRequest) ||
		errors.Is(err, normalize.ErrDataURLDecode) ||
		errors.Is(err, normalize.ErrUnexpectedContentType) ||
		errors.Is(err, normalize.ErrUnrecognizedString) ||
		errors.Is(err, normalize.ErrUnsupportedResponseType)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsInvalidInput(err):
		return "invalid"
	case errors.Is(err, ErrFlagged):
		return "flagged"
	case errors.Is(err, remote.ErrRequest):
		return "remote_error"
	case IsUpstream(err):
		return "bad_result"
	default:
		return "error"
	}
}
