// Package sandbox guards the materialization of tool arguments into shell
// commands run on the gateway host.
//
// It validates path arguments, quotes values interpolated into commands,
// and refuses a fixed set of destructive command shapes.
package sandbox

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Common errors for argument validation.
var (
	ErrNullByte  = errors.New("contains null byte")
	ErrTraversal = errors.New("directory traversal is not allowed")
	ErrEmptyPath = errors.New("path is empty")
)

// ValidationError reports a rejected tool argument.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// BlockedError reports a command refused by the blocklist.
type BlockedError struct {
	Command string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("Blocked: %q is not allowed for safety reasons", e.Command)
}

// ValidatePath rejects an empty path and a path containing a NUL byte or a
// ".." segment. Dots inside a segment ("my..file.txt") are accepted.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return &ValidationError{Field: "path", Value: path, Err: ErrEmptyPath}
	}
	return validate("path", path)
}

// ValidatePattern applies the path rules to a search pattern.
func ValidatePattern(pattern string) error {
	return validate("pattern", pattern)
}

func validate(field, value string) error {
	if strings.ContainsRune(value, 0) {
		return &ValidationError{Field: field, Value: value, Err: ErrNullByte}
	}
	for _, seg := range strings.FieldsFunc(value, isSeparator) {
		if seg == ".." {
			return &ValidationError{Field: field, Value: value, Err: ErrTraversal}
		}
	}
	return nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// Quote wraps s in single quotes for POSIX shells. Each embedded single
// quote closes the string, adds an escaped quote and reopens it.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// IsBlocked reports whether command runs a destructive program. Compound
// commands are split on ; & | && || newlines and subshell delimiters, and
// every simple command is checked on its own.
func IsBlocked(command string) bool {
	for _, seg := range splitCommand(command) {
		if blockedSegment(seg) {
			return true
		}
	}
	return false
}

// CheckCommand returns a *BlockedError when command is refused.
func CheckCommand(command string) error {
	if IsBlocked(command) {
		return &BlockedError{Command: command}
	}
	return nil
}

// segment is one simple command. piped is set when its input comes from
// the previous command through |.
type segment struct {
	words []string
	piped bool
}

// splitCommand tokenizes command into simple commands. Quoted text never
// splits, and quotes are removed from words.
func splitCommand(command string) []segment {
	var (
		segs    []segment
		cur     segment
		word    strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	flushWord := func() {
		if inWord {
			cur.words = append(cur.words, word.String())
			word.Reset()
			inWord = false
		}
	}
	flushSeg := func(piped bool) {
		flushWord()
		if len(cur.words) > 0 {
			segs = append(segs, cur)
		}
		cur = segment{piped: piped}
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case escaped:
			word.WriteRune(r)
			inWord = true
			escaped = false
		case quote != 0:
			if r == quote {
				quote = 0
			} else if r == '\\' && quote == '"' {
				escaped = true
			} else {
				word.WriteRune(r)
			}
		case r == '\\':
			escaped = true
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
				flushSeg(false)
			} else {
				flushSeg(true)
			}
		case r == ';' || r == '&' || r == '\n' || r == '(' || r == ')' || r == '`':
			flushSeg(false)
		case r == '$' && i+1 < len(runes) && runes[i+1] == '(':
			i++
			flushSeg(false)
		case r == ' ' || r == '\t':
			flushWord()
		default:
			word.WriteRune(r)
			inWord = true
		}
	}
	flushSeg(false)
	return segs
}

var shells = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true}

func blockedSegment(seg segment) bool {
	words := seg.words
	// Leading VAR=value assignments.
	for len(words) > 0 && isAssignment(words[0]) {
		words = words[1:]
	}
	if len(words) == 0 {
		return false
	}
	name, args := path.Base(words[0]), words[1:]
	switch {
	case name == "sudo":
		return true
	case strings.HasPrefix(name, "mkfs"):
		return true
	case seg.piped && shells[name]:
		return true
	case name == "chmod":
		return hasArg(args, func(a string) bool { return a == "777" || a == "0777" })
	case name == "dd":
		return hasArg(args, func(a string) bool { return strings.HasPrefix(a, "if=") })
	case name == "rm":
		return recursiveForceFromRoot(args)
	}
	return false
}

// recursiveForceFromRoot reports whether rm args combine recursive and
// force flags, in any spelling, with an absolute operand.
func recursiveForceFromRoot(args []string) bool {
	var recursive, force, absolute bool
	flags := true
	for _, a := range args {
		switch {
		case flags && a == "--":
			flags = false
		case flags && (a == "--recursive"):
			recursive = true
		case flags && a == "--force":
			force = true
		case flags && strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && len(a) > 1:
			recursive = recursive || strings.ContainsAny(a, "rR")
			force = force || strings.ContainsRune(a, 'f')
		case strings.HasPrefix(a, "/"):
			absolute = true
		}
	}
	return recursive && force && absolute
}

func hasArg(args []string, match func(string) bool) bool {
	for _, a := range args {
		if match(a) {
			return true
		}
	}
	return false
}

func isAssignment(word string) bool {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return false
	}
	for i, r := range word[:eq] {
		if r != '_' && !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && (i == 0 || r < '0' || r > '9') {
			return false
		}
	}
	return true
}
