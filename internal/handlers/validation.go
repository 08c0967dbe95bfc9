package handlers

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxInputLen = 1000

var (
	htmlChars      = regexp.MustCompile(`[<>]`)
	javascriptURL  = regexp.MustCompile(`(?i)javascript:`)
	eventHandler   = regexp.MustCompile(`(?i)on\w+=`)
	scriptInjected = regexp.MustCompile(`(?i)<script|javascript:|on\w+=`)

	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^\+?[1-9]\d{7,15}$`)
	nameRe  = regexp.MustCompile(`^[a-zA-ZáéíóúÁÉÍÓÚñÑ\s\-']+$`)
)

// sanitize strips markup and script fragments and caps the length.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = htmlChars.ReplaceAllString(s, "")
	s = javascriptURL.ReplaceAllString(s, "")
	s = eventHandler.ReplaceAllString(s, "")
	if utf8.RuneCountInString(s) > maxInputLen {
		s = string([]rune(s)[:maxInputLen])
	}
	return s
}

func validEmail(s string) bool {
	return len(s) <= 254 && emailRe.MatchString(s)
}

func validPhone(s string) bool {
	return phoneRe.MatchString(s)
}

func validPassword(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= 6 && n <= 128 &&
		!strings.Contains(s, " ") &&
		!scriptInjected.MatchString(s)
}

func validName(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= 2 && n <= 50 && nameRe.MatchString(s)
}
