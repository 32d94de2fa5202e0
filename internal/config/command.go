package config

import (
	"fmt"
	"strings"
	"unicode"
)

// CommandConfig holds an external command in both its raw config form and
// the argv the daemon executes. The zero value means "not configured".
type CommandConfig struct {
	Raw  string   `yaml:"-"`
	Argv []string `yaml:"-"`
}

// ParseCommand splits a shell-like command string into a CommandConfig.
// Single and double quotes group words, backslash escapes the next rune,
// and blank or comment lines yield an unconfigured command.
func ParseCommand(raw string) (CommandConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return CommandConfig{Raw: raw}, nil
	}

	s := argvScanner{src: []rune(trimmed)}
	var argv []string
	for {
		s.skipSpace()
		if s.eof() {
			break
		}
		word, err := s.scanWord()
		if err != nil {
			return CommandConfig{}, fmt.Errorf("%s in command: %q", err, raw)
		}
		if word != "" {
			argv = append(argv, word)
		}
	}
	return CommandConfig{Raw: raw, Argv: argv}, nil
}

// Configured reports whether the command has anything to execute.
func (c CommandConfig) Configured() bool {
	return len(c.Argv) > 0
}

// UnmarshalYAML parses the command string form at load time.
func (c *CommandConfig) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParseCommand(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func mustCommand(raw string) CommandConfig {
	c, err := ParseCommand(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// argvScanner walks a command string one argument at a time.
type argvScanner struct {
	src []rune
	pos int
}

func (s *argvScanner) eof() bool {
	return s.pos >= len(s.src)
}

func (s *argvScanner) skipSpace() {
	for !s.eof() && unicode.IsSpace(s.src[s.pos]) {
		s.pos++
	}
}

// scanWord consumes one argument, honoring quotes and backslash escapes.
func (s *argvScanner) scanWord() (string, error) {
	var word strings.Builder
	var quote rune

	for !s.eof() {
		r := s.src[s.pos]
		switch {
		case r == '\\':
			s.pos++
			if s.eof() {
				return "", fmt.Errorf("unterminated escape sequence")
			}
			word.WriteRune(s.src[s.pos])
			s.pos++
		case quote != 0:
			s.pos++
			if r == quote {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			s.pos++
		case unicode.IsSpace(r):
			return word.String(), nil
		default:
			word.WriteRune(r)
			s.pos++
		}
	}

	if quote != 0 {
		return "", fmt.Errorf("unterminated quote")
	}
	return word.String(), nil
}
