package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// IdentityClause keeps the subject recognizable when a reference image seeds generation.
	IdentityClause = "Keep the same subject, face, hairstyle and outfit as the reference image."
	// DefaultQualityBoost is appended by BoostQuality when no suffix is given.
	DefaultQualityBoost = "cinematic lighting, high detail, smooth natural motion"
)

// TruncatePrompt shortens prompt to at most max runes. It cuts at the last
// word boundary in the second half of the allowed length when there is one,
// never in the middle of a multi-byte character. max <= 0 disables the limit.
func TruncatePrompt(prompt string, max int) string {
	prompt = strings.TrimSpace(prompt)
	if max <= 0 || utf8.RuneCountInString(prompt) <= max {
		return prompt
	}
	runes := []rune(prompt)[:max]
	cut := len(runes)
	for i := len(runes) - 1; i >= max/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';'
	})
}

// InjectIdentity appends IdentityClause unless the prompt already carries it.
func InjectIdentity(prompt string) string {
	return appendClause(prompt, IdentityClause)
}

// BoostQuality appends quality keywords. An empty suffix uses DefaultQualityBoost.
func BoostQuality(prompt, suffix string) string {
	if strings.TrimSpace(suffix) == "" {
		suffix = DefaultQualityBoost
	}
	return appendClause(prompt, suffix)
}

// BuildPrompt joins the scene prompt with a camera phrase and enforces max.
// The camera phrase is kept intact; only the scene text is shortened.
func BuildPrompt(prompt, camera string, max int) string {
	prompt = strings.TrimSpace(prompt)
	camera = strings.TrimSpace(camera)
	if camera == "" {
		return TruncatePrompt(prompt, max)
	}
	if max > 0 {
		room := max - utf8.RuneCountInString(camera) - 2
		if room <= 0 {
			return TruncatePrompt(camera, max)
		}
		prompt = TruncatePrompt(prompt, room)
	}
	if prompt == "" {
		return camera
	}
	return terminate(prompt) + " " + camera
}

func appendClause(prompt, clause string) string {
	prompt = strings.TrimSpace(prompt)
	if strings.Contains(strings.ToLower(prompt), strings.ToLower(clause)) {
		return prompt
	}
	if prompt == "" {
		return clause
	}
	return terminate(prompt) + " " + clause
}

func terminate(s string) string {
	r, _ := utf8.DecodeLastRuneInString(s)
	if unicode.IsPunct(r) {
		return s
	}
	return s + "."
}
