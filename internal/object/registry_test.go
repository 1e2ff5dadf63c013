package object

import (
	"errors"
	"testing"
)

func TestRegistryUniquenessWithinKind(t *testing.T) {
	r := NewRegistry()

	c1, _ := NewConsole("c1", "/dev/ttyS0", 9600, "", fakeOpener{})
	if err := r.Insert(c1); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	dup, _ := NewConsole("c1", "/dev/ttyS1", 9600, "", fakeOpener{})
	if err := r.Insert(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate insert: got %v, want ErrDuplicate", err)
	}

	// The same name under a different kind is fine.
	lf, _ := NewLogFile("c1", false)
	if err := r.Insert(lf); err != nil {
		t.Fatalf("Insert logfile with console's name: %v", err)
	}

	if got := r.Lookup(Console, "c1"); got != c1 {
		t.Fatalf("Lookup(Console, c1) = %v, want original console", got)
	}
	if got := r.Lookup(LogFile, "c1"); got != lf {
		t.Fatalf("Lookup(LogFile, c1) = %v, want logfile", got)
	}
	if got := r.Lookup(Console, "nope"); got != nil {
		t.Fatalf("Lookup of absent name = %v, want nil", got)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	c1, _ := NewConsole("c1", "/dev/ttyS0", 9600, "", fakeOpener{})
	if err := r.Insert(c1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	r.Remove(c1)
	if r.Lookup(Console, "c1") != nil {
		t.Fatal("object still present after Remove")
	}
	r.Remove(c1) // no-op
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryStableOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		c, _ := NewConsole(name, "/dev/null", 9600, "", fakeOpener{})
		if err := r.Insert(c); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	lf, _ := NewLogFile("aaa.log", false)
	if err := r.Insert(lf); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	want := []string{"alpha", "mid", "zeta", "aaa.log"}
	for i := 0; i < 3; i++ {
		objs := r.Objects()
		if len(objs) != len(want) {
			t.Fatalf("Objects returned %d entries, want %d", len(objs), len(want))
		}
		for j, o := range objs {
			if o.Name != want[j] {
				t.Fatalf("iteration %d: objs[%d] = %q, want %q", i, j, o.Name, want[j])
			}
		}
	}

	if got := r.Consoles(); len(got) != 3 || got[0] != "alpha" || got[2] != "zeta" {
		t.Fatalf("Consoles() = %v", got)
	}
}
