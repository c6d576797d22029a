package tts

import (
	"fmt"
	"strings"
)

// DefaultVoice is preselected on the form.
const DefaultVoice = "alloy"

// DefaultEmotion replaces a blank emotion.
const DefaultEmotion = "neutral instructional test reader"

type Voice struct {
	ID string `json:"id"`
}

var voiceIDs = []string{
	"alloy", "echo", "fable", "onyx", "nova", "shimmer",
	"coral", "verse", "ballad", "ash", "sage", "amuch", "dan",
}

type VoiceManager struct {
	voices []Voice
	byID   map[string]Voice
}

// NewVoiceManager returns the manager for the voices the remote app accepts.
func NewVoiceManager() *VoiceManager {
	mgr := &VoiceManager{
		voices: make([]Voice, 0, len(voiceIDs)),
		byID:   make(map[string]Voice, len(voiceIDs)),
	}
	for _, id := range voiceIDs {
		v := Voice{ID: id}
		mgr.voices = append(mgr.voices, v)
		mgr.byID[id] = v
	}
	return mgr
}

// ListVoices returns the voices in display order.
func (m *VoiceManager) ListVoices() []Voice {
	return append([]Voice(nil), m.voices...)
}

// IDs returns the voice identifiers in display order.
func (m *VoiceManager) IDs() []string {
	ids := make([]string, len(m.voices))
	for i, v := range m.voices {
		ids[i] = v.ID
	}
	return ids
}

// Resolve checks id against the voice set. A blank id yields ErrMissingVoice.
func (m *VoiceManager) Resolve(id string) (Voice, error) {
	if strings.TrimSpace(id) == "" {
		return Voice{}, ErrMissingVoice
	}
	v, ok := m.byID[id]
	if !ok {
		return Voice{}, fmt.Errorf("%w %q", ErrUnknownVoice, id)
	}
	return v, nil
}
