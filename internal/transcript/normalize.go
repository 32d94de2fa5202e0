package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

// Abbreviations whose trailing period does not end a sentence, so the
// following word stays lowercase.
var nonTerminalAbbreviations = map[string]struct{}{
	"dr":   {},
	"e.g":  {},
	"etc":  {},
	"fig":  {},
	"i.e":  {},
	"jr":   {},
	"mr":   {},
	"mrs":  {},
	"ms":   {},
	"prof": {},
	"sr":   {},
	"vs":   {},
}

var (
	pronounIContractionPattern = regexp.MustCompile(`\bi['’](?:m|d|ll|ve|re|s)\b`)
	pronounIWordPattern        = regexp.MustCompile(`\bi\b`)
)

// capitalizeSentences uppercases sentence starts and the standalone
// pronoun "i". STT engines emit lowercase text more often than not.
func capitalizeSentences(text string) string {
	text = capitalizeSentenceStarts(text)
	text = pronounIContractionPattern.ReplaceAllStringFunc(text, func(match string) string {
		return "I" + match[1:]
	})
	return capitalizeStandalonePronounI(text)
}

// capitalizeStandalonePronounI uppercases lone "i" words, leaving dotted
// tokens like "i.e." alone.
func capitalizeStandalonePronounI(text string) string {
	matches := pronounIWordPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))

	last := 0
	for _, match := range matches {
		start, end := match[0], match[1]
		out.WriteString(text[last:start])
		if partOfDottedToken(text, start, end) {
			out.WriteString(text[start:end])
		} else {
			out.WriteString("I")
		}
		last = end
	}
	out.WriteString(text[last:])
	return out.String()
}

func partOfDottedToken(text string, start, end int) bool {
	if end < len(text) && text[end] == '.' && end+1 < len(text) && isASCIILetter(text[end+1]) {
		return true
	}
	if start > 0 && text[start-1] == '.' && start > 1 && isASCIILetter(text[start-2]) {
		return true
	}
	return false
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func capitalizeSentenceStarts(text string) string {
	words := strings.Split(text, " ")

	capitalizeNext := true
	for i, word := range words {
		if word == "" {
			continue
		}
		if capitalizeNext {
			words[i] = upperFirstLetter(word)
		}
		capitalizeNext = endsSentence(word)
	}
	return strings.Join(words, " ")
}

// endsSentence reports whether the word terminates a sentence. A period
// after a known abbreviation or inside a decimal does not count.
func endsSentence(word string) bool {
	trimmed := strings.TrimRight(word, `)]}'"’”`)
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	switch last {
	case '!', '?':
		return true
	case '.':
		token := strings.ToLower(strings.Trim(trimmed, ".,;:!?"))
		if _, ok := nonTerminalAbbreviations[token]; ok {
			return false
		}
		// Single letters before a period read as initials ("j. smith").
		if len(token) == 1 {
			return false
		}
		return true
	default:
		return false
	}
}

func upperFirstLetter(word string) string {
	runes := []rune(word)
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			return string(runes)
		}
		// Leading quotes or brackets pass through untouched.
		if !isOpeningRune(r) {
			break
		}
	}
	return word
}

func isOpeningRune(r rune) bool {
	switch r {
	case '(', '[', '{', '\'', '"', '‘', '“':
		return true
	default:
		return false
	}
}
