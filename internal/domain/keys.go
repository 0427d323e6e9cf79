package domain

import (
	"strings"
	"unicode"
)

// CleanIdentifier обрезает пробелы и схлопывает внутренние пробельные последовательности.
func CleanIdentifier(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// JoinKey это нормализованный ключ сопоставления (нижний регистр, только буквы и цифры).
// "#A-1" и "a1" дают один и тот же ключ.
func JoinKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// SplitRefs разбивает ссылку, перечисляющую несколько идентификаторов через , ; |.
// Пустые токены отбрасываются, порядок и дубликаты сохраняются.
func SplitRefs(ref string) []string {
	parts := strings.FieldsFunc(ref, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if id := CleanIdentifier(p); id != "" {
			out = append(out, id)
		}
	}
	return out
}
