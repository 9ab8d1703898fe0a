package presets

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/junwei-lu/metercal/pkg/params"
)

func TestBuiltinsAreValid(t *testing.T) {
	bs := Builtins()
	if len(bs) == 0 {
		t.Fatalf("no built-in presets")
	}
	for _, p := range bs {
		if !p.Builtin {
			t.Fatalf("preset %q not marked builtin", p.Name)
		}
		if err := p.Standards.Validate(); err != nil {
			t.Fatalf("built-in %q has invalid standards: %v", p.Name, err)
		}
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.json")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if got, want := len(s.List()), len(Builtins()); got != want {
		t.Fatalf("fresh store lists %d presets, want %d built-ins", got, want)
	}

	mine := Preset{
		Name:        "bench-7",
		Description: "rack 7 test bench",
		Standards:   params.StandardValues{Voltage: 230, Current: 5, PowerFactor: 0.8, Frequency: 50, Phase: 36.87, SmallCurrentThreshold: 0.2},
		Tolerance:   0.5,
	}
	if err := s.Save(mine); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// reload from disk
	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore reload failed: %v", err)
	}
	got, ok := s2.Get("bench-7")
	if !ok {
		t.Fatalf("bench-7 missing after reload")
	}
	if got.Standards.Voltage != 230 || got.Tolerance != 0.5 || got.Builtin {
		t.Fatalf("reloaded preset = %+v", got)
	}

	if err := s2.Delete("bench-7"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := s2.Get("bench-7"); ok {
		t.Fatalf("bench-7 still present after delete")
	}
}

func TestStoreRejectsBadPresets(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "presets.json"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := s.Save(Preset{Name: ""}); err == nil {
		t.Fatalf("Save accepted an empty name")
	}
	if err := s.Save(Preset{Name: "default-220v-1a"}); err == nil {
		t.Fatalf("Save accepted a built-in name")
	}

	bad := Preset{
		Name:      "bad",
		Standards: params.StandardValues{Voltage: 10, Current: 1, PowerFactor: 1, Frequency: 50, SmallCurrentThreshold: 0.1},
	}
	if err := s.Save(bad); err == nil {
		t.Fatalf("Save accepted out-of-range standards")
	}
	if err := s.Delete("default-220v-1a"); err == nil {
		t.Fatalf("Delete accepted a built-in")
	}
}

// The daemon serves the store from parallel requests; writers and readers
// must not trip over each other.
func TestStoreConcurrentAccess(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "presets.json"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			p := Preset{
				Name:      fmt.Sprintf("bench-%d", i),
				Standards: Builtins()[0].Standards,
			}
			if err := s.Save(p); err != nil {
				t.Errorf("Save bench-%d failed: %v", i, err)
			}
		}(i)
		go func() {
			defer wg.Done()
			s.List()
			s.Get("bench-0")
		}()
	}
	wg.Wait()

	if got, want := len(s.List()), len(Builtins())+writers; got != want {
		t.Fatalf("store lists %d presets, want %d", got, want)
	}
}
