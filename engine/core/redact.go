package core

import (
	"regexp"
	"strings"
)

const maxRedactedLen = 256

// Secret shapes that may leak through provider or transport error strings.
var (
	bearerTokenRe = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-\._~\+\/]+=*`)
	kvSecretRe    = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|password|access_token|x-amz-signature|x-amz-credential)\s*[:=]\s*["']?[^"'\s&]+["']?`,
	)
	genericKeyRe = regexp.MustCompile(`\b(sk-[A-Za-z0-9_\-]{16,}|sk-proj-[A-Za-z0-9_\-]{16,})\b`)
	connectionRe = regexp.MustCompile(`(?i)((postgres|postgresql|redis|rediss|https?)://)[^@\s/]+@`)
	emailRe      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// RedactString trims, scrubs secrets and participant emails, and truncates s.
func RedactString(s string) string {
	s = strings.TrimSpace(s)
	s = connectionRe.ReplaceAllString(s, "$1[REDACTED]@")
	s = bearerTokenRe.ReplaceAllString(s, "$1[REDACTED]")
	s = kvSecretRe.ReplaceAllString(s, "$1=[REDACTED]")
	s = genericKeyRe.ReplaceAllString(s, "[REDACTED]")
	s = emailRe.ReplaceAllString(s, "[EMAIL_REDACTED]")
	if len(s) > maxRedactedLen {
		s = s[:maxRedactedLen] + "…"
	}
	return s
}

func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return RedactString(err.Error())
}
