package report

import (
	"sync"
	"testing"
)

func TestCollector(t *testing.T) {
	var heard []Diagnostic
	c := NewCollector(func(d Diagnostic) { heard = append(heard, d) })

	c.Infof("zlib", "scanned %d artifacts", 3)
	c.Warnf("zlib", "two compressed variants")
	if c.HasErrors() {
		t.Error("HasErrors = true before any error")
	}

	c.Errorf("bash", "missing hint file")
	if !c.HasErrors() {
		t.Error("HasErrors = false after an error")
	}

	diags := c.Diagnostics()
	if len(diags) != 3 {
		t.Fatalf("got %d diagnostics, want 3", len(diags))
	}
	if diags[2].Severity != Error || diags[2].Scope != "bash" {
		t.Errorf("diags[2] = %+v", diags[2])
	}
	if len(heard) != 3 {
		t.Errorf("listener heard %d diagnostics, want 3", len(heard))
	}
	if want := "ERROR: bash: missing hint file"; diags[2].String() != want {
		t.Errorf("String = %q, want %q", diags[2].String(), want)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Warnf("pkg", "note %d", j)
			}
		}()
	}
	wg.Wait()
	if got := len(c.Diagnostics()); got != 16*50 {
		t.Errorf("got %d diagnostics, want %d", got, 16*50)
	}
}
