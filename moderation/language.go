package moderation

import "github.com/abadojack/whatlanggo"

// DetectLanguage returns the ISO 639-1 code of text, as used to name the dictionaries.
func DetectLanguage(text string) string {
	return whatlanggo.Detect(text).Lang.Iso6391()
}
