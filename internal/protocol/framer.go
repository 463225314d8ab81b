// internal/protocol/framer.go
package protocol

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrompts are the shell prompts printed by the controller firmware
var DefaultPrompts = []string{"debug:~$", "prod:~$", "uart:~$"}

var ansiEscape = regexp.MustCompile(`\x1b(\[[0-9;?]*[ -/]*[@-~]|[()][A-Za-z0-9]|[@-Z\\-_])`)

// Framer encodes requests and delimits the reply stream into prompt-terminated blocks.
// A Framer belongs to one transaction at a time and is not safe for concurrent use.
type Framer struct {
	prompts    []string
	terminator string

	buf    []byte
	lines  []string
	prompt string
}

// NewFramer creates a framer. Empty arguments select the defaults.
func NewFramer(prompts []string, terminator string) *Framer {
	cleaned := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultPrompts...)
	}
	if terminator == "" {
		terminator = DefaultTerminator
	}
	return &Framer{prompts: cleaned, terminator: terminator}
}

// Prompts returns the recognised prompt set
func (f *Framer) Prompts() []string {
	return append([]string(nil), f.prompts...)
}

// Encode renders wire text as a single terminated request line
func (f *Framer) Encode(wire string) ([]byte, error) {
	if strings.TrimSpace(wire) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidArgument)
	}
	if strings.ContainsAny(wire, "\r\n") {
		return nil, fmt.Errorf("%w: command contains a line break", ErrInvalidArgument)
	}
	return []byte(wire + f.terminator), nil
}

// Feed consumes bytes from the transport. When a prompt is seen it returns the
// block's lines, prompt excluded, and complete=true. Bytes after the prompt are discarded.
func (f *Framer) Feed(data []byte) ([]string, bool) {
	f.buf = append(f.buf, data...)

	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := cleanLine(f.buf[:idx])
		f.buf = f.buf[idx+1:]

		if p, ok := f.matchPrompt(line); ok {
			f.prompt = p
			return f.finish(), true
		}
		if strings.TrimSpace(line) != "" {
			f.lines = append(f.lines, line)
		}
	}

	// The prompt is usually not followed by a newline
	if len(f.buf) > 0 {
		if p, ok := f.matchPrompt(cleanLine(f.buf)); ok {
			f.prompt = p
			return f.finish(), true
		}
	}
	return nil, false
}

// IsPrompt reports whether a cleaned line is exactly one of the prompts
func (f *Framer) IsPrompt(line string) bool {
	_, ok := f.matchPrompt(line)
	return ok
}

func (f *Framer) matchPrompt(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, p := range f.prompts {
		if trimmed == p {
			return p, true
		}
	}
	return "", false
}

// LastPrompt returns the prompt that closed the most recent block
func (f *Framer) LastPrompt() string {
	return f.prompt
}

// EchoOf reports whether line is the controller's echo of wire, with or without a prompt prefix
func (f *Framer) EchoOf(line, wire string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == wire {
		return true
	}
	for _, p := range f.prompts {
		if rest, ok := strings.CutPrefix(trimmed, p); ok && strings.TrimSpace(rest) == wire {
			return true
		}
	}
	return false
}

// Pending returns what has been received without a closing prompt
func (f *Framer) Pending() []string {
	pending := append([]string(nil), f.lines...)
	if tail := strings.TrimSpace(cleanLine(f.buf)); tail != "" {
		pending = append(pending, tail)
	}
	return pending
}

// Reset clears state between transactions
func (f *Framer) Reset() {
	f.buf = nil
	f.lines = nil
	f.prompt = ""
}

func (f *Framer) finish() []string {
	lines := f.lines
	f.lines = nil
	f.buf = nil
	if lines == nil {
		lines = []string{}
	}
	return lines
}

func cleanLine(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "")
	s = ansiEscape.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r", "")
	return strings.TrimRight(s, " \t")
}
