package translation

import "strings"

// DefaultSourceLanguage is assumed when detection fails
const DefaultSourceLanguage = "en"

// Language is a caption language offered to users
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SupportedLanguages lists the target languages in display order
var SupportedLanguages = []Language{
	{"en", "English"},
	{"ta", "Tamil"},
	{"hi", "Hindi"},
	{"te", "Telugu"},
	{"ml", "Malayalam"},
	{"kn", "Kannada"},
	{"mr", "Marathi"},
	{"bn", "Bengali"},
	{"gu", "Gujarati"},
	{"pa", "Punjabi"},
}

var languageNames = func() map[string]string {
	m := make(map[string]string, len(SupportedLanguages))
	for _, l := range SupportedLanguages {
		m[l.Code] = l.Name
	}
	return m
}()

// LanguageName returns the display name for code, or the upper-cased code
// when the language is not in the supported table.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return strings.ToUpper(code)
}

// IsSupported reports whether code is a supported target language
func IsSupported(code string) bool {
	_, ok := languageNames[code]
	return ok
}
