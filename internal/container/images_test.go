package container

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codejudge/internal/registry"
)

func TestEnsureImagesSkipsWhenImageExists(t *testing.T) {
	calls := filepath.Join(t.TempDir(), "calls")
	bin := fakeRuntime(t, `
echo "$1" >> '`+calls+`'
case "$1" in
  image) exit 0 ;;
  build) echo "should not build" 1>&2; exit 1 ;;
esac
`)
	d := New(Config{RuntimeBin: bin})

	d.EnsureImages(registry.New())

	logged, err := os.ReadFile(calls)
	if err != nil {
		t.Fatalf("read runtime call log: %v", err)
	}
	if strings.Contains(string(logged), "build") {
		t.Fatalf("EnsureImages built an image that already exists; runtime calls:\n%s", logged)
	}
}

func TestEnsureImagesBuildsMissingImage(t *testing.T) {
	calls := filepath.Join(t.TempDir(), "calls")
	bin := fakeRuntime(t, `
echo "$1" >> '`+calls+`'
case "$1" in
  image) exit 1 ;;
  build) exit 0 ;;
esac
`)
	d := New(Config{RuntimeBin: bin})

	reg := registry.New()
	d.EnsureImages(reg)

	logged, err := os.ReadFile(calls)
	if err != nil {
		t.Fatalf("read runtime call log: %v", err)
	}
	if got, want := strings.Count(string(logged), "build\n"), len(reg.Known()); got != want {
		t.Fatalf("build invocations = %d, want %d (one per registered language)", got, want)
	}
}

func TestDockerfileForKnownAndUnknownLanguage(t *testing.T) {
	if got := dockerfileFor("python3"); got == "" {
		t.Fatal("expected non-empty dockerfile for python3")
	}
	if got := dockerfileFor("totally-unknown"); got == "" {
		t.Fatal("expected a fallback dockerfile for an unknown language")
	}
}
