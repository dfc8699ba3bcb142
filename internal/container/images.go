package container

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"codejudge/internal/logging"
	"codejudge/internal/registry"
)

// EnsureImages checks that every recipe's image is present locally and, for
// any that are missing, builds it from an embedded per-language Dockerfile.
// A failed build is only logged: nothing is pulled or tagged in its place,
// and the image name is left for the runtime to resolve when a job runs.
// Grounded on the teacher's ensureImages/generateDockerfile/buildImage flow,
// retargeted from a fixed language list to the Language Registry's recipe
// table. Disabled by default (config.EnsureImages) since it requires local
// `docker build` privileges many deployments won't grant.
func (d *Driver) EnsureImages(reg *registry.Registry) {
	for _, lang := range reg.Known() {
		recipe, err := reg.Lookup(lang)
		if err != nil {
			continue
		}
		if d.imageExists(recipe.Image) {
			continue
		}
		if err := d.buildImage(recipe.Image, dockerfileFor(lang)); err != nil {
			logging.S().Warnw("could not build sandbox image, run will fall back to image pull at execution time", "language", lang, "image", recipe.Image, "err", err)
		}
	}
}

func (d *Driver) imageExists(image string) bool {
	return exec.Command(d.cfg.RuntimeBin, "image", "inspect", image).Run() == nil
}

func (d *Driver) buildImage(image, dockerfile string) error {
	tmpDir, err := os.MkdirTemp("", "codejudge-dockerfile-")
	if err != nil {
		return fmt.Errorf("container: tempdir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "Dockerfile")
	if err := os.WriteFile(path, []byte(dockerfile), 0o644); err != nil {
		return fmt.Errorf("container: write dockerfile: %w", err)
	}

	out, err := exec.Command(d.cfg.RuntimeBin, "build", "-t", image, "-f", path, tmpDir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("container: build %s: %s", image, string(out))
	}
	return nil
}

// dockerfileFor returns a minimal, non-root Dockerfile for a registry
// language id. Images are intentionally separate from the production base
// images the Language Registry names; this is a local-development
// convenience only.
func dockerfileFor(language string) string {
	const skeleton = `FROM %s
RUN useradd -m -s /bin/false sandbox 2>/dev/null || adduser -D -s /bin/false sandbox; \
    mkdir -p /work && chown -R sandbox:sandbox /work
WORKDIR /work
`
	base, ok := devBaseImages[language]
	if !ok {
		base = "debian:bookworm-slim"
	}
	return fmt.Sprintf(skeleton, base)
}

var devBaseImages = map[string]string{
	"python3":    "python:3.12-slim-bookworm",
	"javascript": "node:20-slim",
	"typescript": "node:20-slim",
	"go":         "golang:1.22-bookworm",
	"rust":       "rust:1.75-slim-bookworm",
	"java":       "eclipse-temurin:21-jdk-jammy",
	"c":          "gcc:13-bookworm",
	"cpp":        "gcc:13-bookworm",
	"ruby":       "ruby:3.3-slim",
	"php":        "php:8.3-cli",
}
