package events

import "strings"

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
