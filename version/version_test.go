package version

import (
	"reflect"
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.1", -1},
		{"1.1", "1.0", 1},
		// a numerically larger segment wins regardless of string length
		{"10.0", "9.9", 1},
		{"0.10", "0.9", 1},
		{"1.0-10", "1.0-9", 1},
		// release is compared after version
		{"1.0-1", "1.0-2", -1},
		{"1.1-1", "1.0-2", 1},
		// epoch dominates everything
		{"1:0.1", "9.9", 1},
		{"1:0.1", "2:0.1", -1},
		// letters compare case-insensitively
		{"1.0a", "1.0b", -1},
		{"1.0B", "1.0a", 1},
		// a digit sequence outranks a letter sequence
		{"1.0.1", "1.0.a", 1},
		{"1.0-1", "1.a-1", 1},
		{"1.a", "1.0", -1},
		// separators only delimit sequences
		{"1.0a", "1.0.", 1},
		// a remaining suffix is greater
		{"1.0", "1.0.1", -1},
		{"1.0rc1", "1.0", 1},
		{"0.0.1a", "0.0.1", 1},
	}

	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompareTieBreak(t *testing.T) {
	// structurally equal versions are still distinguished by the exact
	// string, so the order is total
	for _, pair := range [][2]string{{"1.01", "1.1"}, {"1.0a", "1.0A"}} {
		if Compare(pair[0], pair[1]) == 0 {
			t.Errorf("Compare(%q, %q) = 0, want exact-string tie-break", pair[0], pair[1])
		}
		if Compare(pair[0], pair[1]) != -Compare(pair[1], pair[0]) {
			t.Errorf("Compare(%q, %q) is not antisymmetric", pair[0], pair[1])
		}
	}
	if Compare("1.0", "1.0") != 0 {
		t.Error("identical strings must compare equal")
	}
}

func TestSort(t *testing.T) {
	vs := []string{"1.10-1", "1.2-1", "1.9-2", "1.9-10"}
	Sort(vs)
	want := []string{"1.2-1", "1.9-2", "1.9-10", "1.10-1"}
	if !reflect.DeepEqual(vs, want) {
		t.Errorf("Sort = %v, want %v", vs, want)
	}
}

func TestMax(t *testing.T) {
	if got := Max([]string{"1.0-1", "1.2-1", "1.1-1"}); got != "1.2-1" {
		t.Errorf("Max = %q, want 1.2-1", got)
	}
	if got := Max(nil); got != "" {
		t.Errorf("Max(nil) = %q, want empty", got)
	}
}

func TestClassify(t *testing.T) {
	vs := []string{"1.0-1", "1.1-1", "1.2-1"}
	test := map[string]bool{"1.2-1": true}

	got := Classify(vs, func(v string) bool { return test[v] })

	want := map[string]Stability{
		"1.0-1": Prev,
		"1.1-1": Curr,
		"1.2-1": Test,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Classify = %v, want %v", got, want)
	}
}

func TestClassifyAllTest(t *testing.T) {
	got := Classify([]string{"1.0-1", "1.1-1"}, func(string) bool { return true })
	for v, s := range got {
		if s != Test {
			t.Errorf("version %s classified %s, want test", v, s)
		}
	}
}

func TestSortNames(t *testing.T) {
	names := []string{"zlib", "_update-info-dir", "!base", "Alpha"}
	SortNames(names)
	want := []string{"!base", "Alpha", "zlib", "_update-info-dir"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("SortNames = %v, want %v", names, want)
	}
}

func TestStabilityString(t *testing.T) {
	tests := []struct {
		s    Stability
		want string
	}{
		{Curr, "curr"},
		{Prev, "prev"},
		{Test, "test"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Stability(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
