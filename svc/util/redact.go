package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"regexp"
	"strings"
)

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
	secretPattern = regexp.MustCompile(`(?i)(password|token|secret|key|pepper)=([^\s&]+)`)
)

func RedactToken(token string) string {
	if len(token) == 0 {
		return ""
	}
	if len(token) <= 8 {
		return "[TOKEN-REDACTED]"
	}
	return token[:4] + "..." + token[len(token)-4:] + "[REDACTED]"
}
func RedactSecret(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	return secretPattern.ReplaceAllString(s, "$1=[REDACTED]")
}
func RedactEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "[EMAIL-REDACTED]"
	}
	return email[:1] + "***" + email[at:]
}
func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}
