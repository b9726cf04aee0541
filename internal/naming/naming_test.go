package naming

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"
	"time"
)

func TestAllocateSequentialAfterExisting(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 17} {
		dir := t.TempDir()
		for i := 1; i <= n; i++ {
			touch(t, filepath.Join(dir, "Screenshot_"+itoa(i)+".png"))
		}

		a := &Allocator{Exists: FileExists}
		got := a.Allocate(Policy{Prefix: "Screenshot", Format: PNG}, dir)
		want := "Screenshot_" + itoa(n+1) + ".png"
		if got != want {
			t.Fatalf("with %d existing files: expected %s, got %s", n, want, got)
		}
	}
}

func TestAllocateDoesNotSkipGaps(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "shot_1.jpg"))
	touch(t, filepath.Join(dir, "shot_3.jpg"))

	a := NewAllocator()
	got := a.Allocate(Policy{Prefix: "shot", Format: JPG}, dir)
	if got != "shot_2.jpg" {
		t.Fatalf("expected shot_2.jpg, got %s", got)
	}
}

func TestAllocateProbesInIncreasingOrder(t *testing.T) {
	var probed []string
	a := &Allocator{Exists: func(path string) bool {
		probed = append(probed, filepath.Base(path))
		return len(probed) < 4
	}}

	got := a.Allocate(Policy{Prefix: "p", Format: PNG}, "/nowhere")
	if got != "p_4.png" {
		t.Fatalf("expected p_4.png, got %s", got)
	}
	want := []string{"p_1.png", "p_2.png", "p_3.png", "p_4.png"}
	if len(probed) != len(want) {
		t.Fatalf("expected %d probes, got %v", len(want), probed)
	}
	for i := range want {
		if probed[i] != want[i] {
			t.Fatalf("probe %d: expected %s, got %s", i, want[i], probed[i])
		}
	}
}

func TestAllocateTimestampedNeverProbes(t *testing.T) {
	a := &Allocator{
		Exists: func(string) bool {
			t.Fatalf("timestamped allocation must not probe the filesystem")
			return false
		},
		Now: func() time.Time { return time.Date(2025, 3, 7, 9, 5, 1, 0, time.Local) },
	}

	got := a.Allocate(Policy{Prefix: "Screenshot", Format: JPEG, Timestamped: true}, "/tmp")
	if got != "Screenshot_2025-03-07_09-05-01.jpeg" {
		t.Fatalf("unexpected timestamped name %s", got)
	}

	pattern := regexp.MustCompile(`^Screenshot_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}\.jpeg$`)
	if !pattern.MatchString(got) {
		t.Fatalf("%s does not match timestamp pattern", got)
	}
}

func TestAllocateTimestampedSameSecondCollides(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.Local)
	a := &Allocator{Now: func() time.Time { return fixed }}
	p := Policy{Prefix: "s", Format: PNG, Timestamped: true}

	if a.Allocate(p, "") != a.Allocate(p, "") {
		t.Fatalf("expected identical names within one second")
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]struct {
		format Format
		ok     bool
	}{
		"png":  {PNG, true},
		"PNG":  {PNG, true},
		"jpg":  {JPG, true},
		"jpeg": {JPEG, true},
		"gif":  {PNG, false},
		"":     {PNG, false},
	}
	for in, tc := range cases {
		got, ok := ParseFormat(in)
		if got != tc.format || ok != tc.ok {
			t.Fatalf("ParseFormat(%q) = %v,%v want %v,%v", in, got, ok, tc.format, tc.ok)
		}
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
