package translation

import (
	"errors"
	"strings"

	"github.com/abadojack/whatlanggo"
)

var errUndetected = errors.New("language could not be detected")

// Detector guesses the language of a piece of text
type Detector interface {
	Detect(text string) (string, error)
}

// WhatlangDetector detects languages offline with trigram and script analysis
type WhatlangDetector struct{}

// Detect returns the ISO 639-1 code of the text language
func (WhatlangDetector) Detect(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errUndetected
	}

	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", errUndetected
	}
	return code, nil
}
