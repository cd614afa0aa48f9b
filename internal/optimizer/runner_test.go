package optimizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeBinary writes a shell script standing in for the optimizer. The script
// sees the same argument layout the runner produces: "-i in -o out -si r -cc"
// for optimization and "-i in -v" for statistics.
func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-optimizer")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestOptimizeSuccess(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.glb")
	output := filepath.Join(dir, "output.glb")
	if err := os.WriteFile(input, []byte("source-model"), 0o600); err != nil {
		t.Fatal(err)
	}

	bin := fakeBinary(t, `
if [ "$3" = "-v" ]; then
  echo "vertices: 1200"
  exit 0
fi
cp "$2" "$4"
echo "simplified mesh"
`)

	r := NewRunner(bin, 5*time.Second)
	result, err := r.Optimize(context.Background(), input, output, 600)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if result.VertexCountBefore == nil || *result.VertexCountBefore != 1200 {
		t.Errorf("VertexCountBefore = %v, want 1200", result.VertexCountBefore)
	}
	if result.VertexCountAfter == nil || *result.VertexCountAfter != 1200 {
		t.Errorf("VertexCountAfter = %v, want 1200", result.VertexCountAfter)
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestOptimizeBadExitIsPermanent(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.glb")
	if err := os.WriteFile(input, []byte("broken"), 0o600); err != nil {
		t.Fatal(err)
	}

	bin := fakeBinary(t, `
if [ "$3" = "-v" ]; then
  exit 1
fi
echo "error: malformed input"
exit 2
`)

	r := NewRunner(bin, 5*time.Second)
	_, err := r.Optimize(context.Background(), input, filepath.Join(dir, "out.glb"), 600)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Errorf("nonzero exit should be permanent, got transient: %v", err)
	}
}

func TestOptimizeTimeoutIsTransient(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.glb")
	if err := os.WriteFile(input, []byte("big"), 0o600); err != nil {
		t.Fatal(err)
	}

	bin := fakeBinary(t, `
if [ "$3" = "-v" ]; then
  echo "vertices: 10"
  exit 0
fi
sleep 5
`)

	r := NewRunner(bin, 200*time.Millisecond)
	_, err := r.Optimize(context.Background(), input, filepath.Join(dir, "out.glb"), 600)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Errorf("timeout should be transient, got: %v", err)
	}
}

func TestOptimizeMissingBinary(t *testing.T) {
	r := NewRunner(filepath.Join(t.TempDir(), "does-not-exist"), time.Second)
	_, err := r.Optimize(context.Background(), "in.glb", "out.glb", 600)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Errorf("missing binary should be permanent, got transient: %v", err)
	}
}

func TestParseVertexCount(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   *int
	}{
		{"plain", "mesh stats\nvertices: 4521\ntriangles: 9000", intPtr(4521)},
		{"with separator", "vertices: 1,204,500", intPtr(1204500)},
		{"inline", "input: model.glb vertices: 42 primitives: 3", intPtr(42)},
		{"absent", "triangles: 9000", nil},
		{"garbage", "vertices: lots", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseVertexCount(tc.output)
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("got %d, want nil", *got)
			case tc.want != nil && got == nil:
				t.Fatalf("got nil, want %d", *tc.want)
			case tc.want != nil && *got != *tc.want:
				t.Fatalf("got %d, want %d", *got, *tc.want)
			}
		})
	}
}

func TestTruncateBoundsLog(t *testing.T) {
	r := &Runner{MaxLogBytes: 16}
	long := "0123456789abcdefEXTRA"
	got := r.truncate(long)
	if got != "0123456789abcdef... (truncated)" {
		t.Fatalf("truncate = %q", got)
	}
}

func intPtr(n int) *int { return &n }
