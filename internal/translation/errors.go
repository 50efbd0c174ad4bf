package translation

import "fmt"

// AITranslationError is a failed AI request. It triggers the literal
// fallback and is never returned from Orchestrator.Translate.
type AITranslationError struct {
	Err error
}

func (e *AITranslationError) Error() string {
	return fmt.Sprintf("AI translation failed: %v", e.Err)
}

func (e *AITranslationError) Unwrap() error {
	return e.Err
}

// TranslationFailedError is returned once every literal attempt has failed.
type TranslationFailedError struct {
	Attempts int
	Err      error
}

func (e *TranslationFailedError) Error() string {
	return fmt.Sprintf("translation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TranslationFailedError) Unwrap() error {
	return e.Err
}
