// Package hint parses package metadata-hint files.
//
// A hint file is a sequence of "key: value" lines. A value is either a
// bare token or a double-quoted string which may span several lines and
// is terminated only by a quote at the end of a line. There is no
// escape sequence: an embedded double quote is written as two single
// quotes, which means a literal '' cannot be represented inside a
// quoted value. That limitation is part of the file format and is
// preserved here rather than fixed.
package hint

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrSyntax is wrapped by every parse error: unterminated quotes,
// embedded quotes, unknown or duplicate keys, and value constraint
// violations.
var ErrSyntax = errors.New("hint syntax error")

// Recognized keys, grouped by their value constraints.
var (
	// multilineKeys may hold a value spanning several lines.
	multilineKeys = map[string]bool{"ldesc": true, "message": true}
	// valueKeys must hold a non-empty value.
	valueKeys = map[string]bool{
		"sdesc": true, "category": true, "external-source": true,
		"source": true, "version": true, "autodep": true,
		"incver_ifdep": true,
	}
	// optValueKeys may hold an empty value, which means absent.
	optValueKeys = map[string]bool{"requires": true, "noautodep": true, "ldesc": true, "message": true}
	// flagKeys must hold an empty value.
	flagKeys = map[string]bool{"skip": true, "test": true}
)

func knownKey(k string) bool {
	return multilineKeys[k] || valueKeys[k] || optValueKeys[k] || flagKeys[k]
}

// Record is the parsed content of one hint file.
type Record struct {
	Sdesc          string   // short description, quotes removed
	Ldesc          string   // long description, quotes removed, may be multi-line
	Categories     []string // normalized with an uppercase first letter
	Requires       []string // sorted explicit requirements
	Message        string   // "<id> <text>"
	Skip           bool     // package is excluded from the index
	Test           bool     // version is classified test
	Version        string   // forces curr onto this version when the engine allows it
	ExternalSource string   // name of the package providing the source
	Source         string
	Autodep        []string // path patterns owned by this package
	Noautodep      []string // sorted names never auto-added to requires
	IncverIfdep    []string // bump release when one of these has a newer current version

	// Warnings are non-fatal oddities found while parsing, such as a
	// trailing '.' stripped from sdesc.
	Warnings []string
}

var messageRe = regexp.MustCompile(`^(\S+)\s+\S`)

// ParseFile reads and parses the hint file at path.
func ParseFile(path string) (*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hint %s: %w", path, err)
	}
	r, err := Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse parses hint-file content. All syntax and constraint violations
// found are reported together, each wrapping ErrSyntax.
func Parse(content string) (*Record, error) {
	if !utf8.ValidString(content) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrSyntax)
	}

	rec := &Record{}
	var errs []error
	seen := map[string]bool{}

	for _, it := range lex(content) {
		if it.err != "" {
			errs = append(errs, fmt.Errorf("%w: %s at line %d", ErrSyntax, it.err, it.line))
		}
		if n := strings.Count(it.text, `"`); n != 0 && n != 2 {
			errs = append(errs, fmt.Errorf("%w: embedded quote at line %d", ErrSyntax, it.line))
		}

		key, value, ok := splitItem(it.text)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: unrecognized construct %q at line %d", ErrSyntax, it.text, it.line))
			continue
		}
		if !knownKey(key) {
			errs = append(errs, fmt.Errorf("%w: unknown key %q at line %d", ErrSyntax, key, it.line))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("%w: duplicate key %q", ErrSyntax, key))
			continue
		}
		seen[key] = true

		if valueKeys[key] && value == "" {
			errs = append(errs, fmt.Errorf("%w: key %q has empty value", ErrSyntax, key))
			continue
		}
		if flagKeys[key] && value != "" {
			errs = append(errs, fmt.Errorf("%w: key %q has non-empty value %q", ErrSyntax, key, value))
			continue
		}
		if !multilineKeys[key] && strings.Contains(value, "\n") {
			errs = append(errs, fmt.Errorf("%w: key %q has multi-line value", ErrSyntax, key))
			continue
		}

		if err := rec.set(key, value); err != nil {
			errs = append(errs, err)
		}
	}

	if !rec.Skip {
		for _, k := range []string{"category", "sdesc"} {
			if !seen[k] {
				errs = append(errs, fmt.Errorf("%w: required key %q missing", ErrSyntax, k))
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rec, nil
}

// set stores one parsed key after applying key-specific handling.
func (r *Record) set(key, value string) error {
	switch key {
	case "sdesc":
		v, err := r.unquote(key, value)
		if err != nil {
			return err
		}
		if strings.HasSuffix(v, ".") {
			r.Warnings = append(r.Warnings, "sdesc ends with '.'")
			v = strings.TrimSuffix(v, ".")
		}
		if strings.Contains(v, "  ") {
			r.Warnings = append(r.Warnings, "sdesc contains '  '")
		}
		r.Sdesc = v
	case "ldesc":
		if value == "" {
			return nil
		}
		v, err := r.unquote(key, value)
		if err != nil {
			return err
		}
		r.Ldesc = v
	case "category":
		for _, c := range strings.Fields(value) {
			r.Categories = append(r.Categories, normalizeCategory(c))
		}
	case "requires":
		r.Requires = sortedFields(value)
	case "message":
		if value == "" {
			return nil
		}
		if !messageRe.MatchString(value) {
			return fmt.Errorf("%w: message value must have an id and text", ErrSyntax)
		}
		r.Message = value
	case "skip":
		r.Skip = true
	case "test":
		r.Test = true
	case "version":
		r.Version = value
	case "external-source":
		r.ExternalSource = value
	case "source":
		r.Source = value
	case "autodep":
		r.Autodep = strings.Fields(value)
	case "noautodep":
		r.Noautodep = sortedFields(value)
	case "incver_ifdep":
		r.IncverIfdep = strings.Fields(value)
	}
	return nil
}

// unquote checks that value is double-quoted, removes the quotes and any
// space right after the opening quote, and decodes '' back to a double
// quote.
func (r *Record) unquote(key, value string) (string, error) {
	if !strings.HasPrefix(value, `"`) || !strings.HasSuffix(value, `"`) || len(value) < 2 {
		return "", fmt.Errorf("%w: value for key %q must be quoted", ErrSyntax, key)
	}
	v := value[1 : len(value)-1]
	if trimmed := strings.TrimLeft(v, " \t"); trimmed != v {
		r.Warnings = append(r.Warnings, fmt.Sprintf("value for key %q starts with quoted whitespace", key))
		v = trimmed
	}
	return strings.ReplaceAll(v, "''", `"`), nil
}

// Quote renders s as a hint-file quoted value, writing any double quote
// as two single quotes.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "''") + `"`
}

func sortedFields(s string) []string {
	fs := strings.Fields(s)
	sort.Strings(fs)
	return fs
}

func normalizeCategory(c string) string {
	r, size := utf8.DecodeRuneInString(c)
	if r == utf8.RuneError {
		return c
	}
	return string(unicode.ToUpper(r)) + c[size:]
}

// splitItem splits "key: value" where the key contains neither spaces
// nor colons.
func splitItem(item string) (key, value string, ok bool) {
	i := strings.Index(item, ":")
	if i <= 0 {
		return "", "", false
	}
	key = item[:i]
	if strings.ContainsAny(key, " \t\n") {
		return "", "", false
	}
	return key, strings.TrimLeft(item[i+1:], " \t"), true
}

// item is one lexed key:value unit with its starting line number.
type item struct {
	line int
	text string
	err  string
}

// lex splits content into items, joining the lines of a quoted value
// that is terminated only by a quote at end of line. It moves through
// three states: reading plain lines, accumulating a quoted value, and
// reporting an unterminated quote at end of input.
func lex(content string) []item {
	var items []item
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	for i := 0; i < len(lines); i++ {
		o := lines[i]
		if strings.HasPrefix(o, "#") {
			continue
		}
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}

		// a line with both quotes is complete on its own
		if strings.Count(o, `"`) == 2 {
			items = append(items, item{line: i + 1, text: o})
			continue
		}

		if strings.Contains(o, `"`) {
			// accumulate until a line ending in a quote; inner
			// lines keep leading space but lose trailing space
			start := i
			terminated := false
			for i < len(lines)-1 {
				i++
				o += "\n" + strings.TrimRight(lines[i], " \t")
				if strings.HasSuffix(o, `"`) {
					terminated = true
					break
				}
			}
			it := item{line: start + 1, text: o}
			if !terminated {
				it.err = "unterminated quote"
			}
			items = append(items, it)
			continue
		}

		items = append(items, item{line: i + 1, text: o})
	}
	return items
}
