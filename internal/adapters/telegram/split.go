package telegram

import "strings"

// MessageLimit — максимальная длина сообщения Telegram в символах.
const MessageLimit = 4096

// SplitMessage режет текст на части не длиннее MessageLimit.
// Разрез по возможности приходится на перевод строки, чтобы строки табло не рвались.
func SplitMessage(text string) []string {
	return splitBy(text, MessageLimit)
}

func splitBy(text string, limit int) []string {
	rest := []rune(strings.TrimSpace(text))
	var parts []string
	for len(rest) > 0 {
		if len(rest) <= limit {
			parts = appendChunk(parts, rest)
			break
		}
		cut := limit
		for i := limit; i > 0; i-- {
			if rest[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = appendChunk(parts, rest[:cut])
		rest = rest[cut:]
		for len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
	}
	return parts
}

func appendChunk(parts []string, chunk []rune) []string {
	s := strings.Trim(string(chunk), "\n")
	if s == "" {
		return parts
	}
	return append(parts, s)
}
