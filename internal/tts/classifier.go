package tts

import "context"

// PromptClassifier decides whether a prompt must be refused before any
// remote call is made.
type PromptClassifier interface {
	IsFlagged(ctx context.Context, prompt string) (bool, error)
}

// NoopClassifier flags nothing.
type NoopClassifier struct{}

func (NoopClassifier) IsFlagged(context.Context, string) (bool, error) { return false, nil }

// ClassifierFunc adapts a function to PromptClassifier.
type ClassifierFunc func(ctx context.Context, prompt string) (bool, error)

func (f ClassifierFunc) IsFlagged(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}
