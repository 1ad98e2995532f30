// Package version implements the total ordering over package version and
// release strings used for display sorting and for classifying versions
// into the curr/prev/test stability levels.
//
// A version string has the shape [epoch:]version[-release]. The release
// part is split on the last '-', the epoch on the first ':' (defaulting
// to "0"). Each part is segmented into its digit and letter sequences;
// separator characters only delimit sequences and carry no weight of
// their own. Digit sequences compare as integers, so "10" > "9". Where a
// digit sequence meets a letter sequence it is the greater, so "1.0"
// orders after "1.a". Letter sequences compare case-insensitively, and a
// part with sequences remaining after all common positions matched is
// the greater. The exact strings are the final tie-break, keeping the
// order total.
package version

import (
	"sort"
	"strings"
)

// Stability is the classification of one version of a package.
type Stability int

const (
	// Curr is the version installed by default: the greatest version
	// not explicitly marked as test. A package may have no curr
	// version at all, meaning it is not installable by default.
	Curr Stability = iota
	// Prev is any version superseded by curr.
	Prev
	// Test is a version explicitly marked as test, regardless of rank.
	Test
)

// String returns the stability tag as it appears in the index.
func (s Stability) String() string {
	switch s {
	case Curr:
		return "curr"
	case Prev:
		return "prev"
	case Test:
		return "test"
	}
	return "unknown"
}

// run is a maximal sequence of either digit or letter characters.
type run struct {
	numeric bool
	s       string
}

// segment splits s into its digit and letter sequences, in order.
// Separator characters are discarded.
func segment(s string) []run {
	var runs []run
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || charClass(s[i]) != charClass(s[start]) {
			if i > start && charClass(s[start]) != 2 {
				runs = append(runs, run{numeric: isDigit(s[start]), s: s[start:i]})
			}
			start = i
		}
	}
	return runs
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// charClass classifies a character for segmentation: digit, letter, or
// separator.
func charClass(c byte) int {
	switch {
	case isDigit(c):
		return 0
	case isLetter(c):
		return 1
	}
	return 2
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// compareText compares two letter sequences case-insensitively.
func compareText(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := int(lower(a[i])) - int(lower(b[i])); c != 0 {
			return sign(c)
		}
	}
	if c := len(a) - len(b); c != 0 {
		return sign(c)
	}
	// case-insensitively equal: exact string as tie-break
	return strings.Compare(a, b)
}

// compareNumeric compares two numeric runs as integers of arbitrary size.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if c := len(a) - len(b); c != 0 {
		return sign(c)
	}
	return strings.Compare(a, b)
}

// compareRuns compares two sequence lists element-wise. Where a digit
// sequence meets a letter sequence the digit sequence is the greater; a
// list with a suffix remaining after all common positions matched is
// the greater.
func compareRuns(a, b []run) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i].numeric != b[i].numeric {
			if a[i].numeric {
				return 1
			}
			return -1
		}
		var c int
		if a[i].numeric {
			c = compareNumeric(a[i].s, b[i].s)
		} else {
			c = compareText(a[i].s, b[i].s)
		}
		if c != 0 {
			return c
		}
	}
	return sign(len(a) - len(b))
}

func sign(c int) int {
	switch {
	case c < 0:
		return -1
	case c > 0:
		return 1
	}
	return 0
}

// split separates a version string into its epoch, version and release
// parts. The release is everything after the last '-', if any; the
// epoch is everything before the first ':' of the remainder, defaulting
// to "0".
func split(s string) (epoch, ver, rel string) {
	ver = s
	if i := strings.LastIndex(ver, "-"); i >= 0 {
		rel = ver[i+1:]
		ver = ver[:i]
	}
	epoch = "0"
	if i := strings.Index(ver, ":"); i >= 0 {
		epoch = ver[:i]
		ver = ver[i+1:]
	}
	return epoch, ver, rel
}

// Compare returns -1, 0 or 1 according to whether a orders before, equal
// to, or after b.
func Compare(a, b string) int {
	ae, av, ar := split(a)
	be, bv, br := split(b)

	if c := compareRuns(segment(ae), segment(be)); c != 0 {
		return c
	}
	if c := compareRuns(segment(av), segment(bv)); c != 0 {
		return c
	}
	if c := compareRuns(segment(ar), segment(br)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// Sort sorts version strings in ascending order.
func Sort(vs []string) {
	sort.Slice(vs, func(i, j int) bool { return Compare(vs[i], vs[j]) < 0 })
}

// Max returns the greatest of the given version strings, or "" if none.
func Max(vs []string) string {
	max := ""
	for _, v := range vs {
		if max == "" || Compare(v, max) > 0 {
			max = v
		}
	}
	return max
}

// Classify assigns a stability level to each version. Versions for
// which isTest reports true are Test regardless of their rank. The
// greatest remaining version is Curr; everything else is Prev. If every
// version is a test version there is no curr, which is legal.
func Classify(vs []string, isTest func(v string) bool) map[string]Stability {
	m := make(map[string]Stability, len(vs))
	curr := ""
	for _, v := range vs {
		if isTest(v) {
			m[v] = Test
			continue
		}
		m[v] = Prev
		if curr == "" || Compare(v, curr) > 0 {
			curr = v
		}
	}
	if curr != "" {
		m[curr] = Curr
	}
	return m
}

// SortKey returns a collation key for package names: names beginning
// with '!' order first, names beginning with '_' order last, and
// everything else orders case-insensitively.
func SortKey(name string) string {
	k := strings.ToLower(name)
	if k == "" {
		return k
	}
	switch k[0] {
	case '!':
		return "\x00" + k
	case '_':
		return "\xff" + k
	}
	return k
}

// SortNames sorts package names using SortKey.
func SortNames(names []string) {
	sort.Slice(names, func(i, j int) bool { return SortKey(names[i]) < SortKey(names[j]) })
}
