// Package containers generates Dockerfiles for the worker binary,
// parameterized by target architecture, for SSM-dispatched remote
// execution (SPEC_FULL.md §B).
//
// Grounded on pkg/containers/builder.go's Builder/BuildConfig/
// DockerfileTemplate and its generate/build/push pipeline, reduced to
// drop the Spack/compiler-toolchain machinery (Intel OneAPI, AMD AOCC,
// architecture-tuned cflags) that exists there to compile STREAM/HPL
// from source for a specific microarchitecture. The worker here is a
// single statically-linked Go binary cross-compiled via GOARCH, so the
// only architecture-specific concern left is which Go build target and
// base image to use — there is no compiler-flag selection to port.
package containers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

// Builder orchestrates building and publishing a worker container
// image for one target architecture.
type Builder struct {
	registryURL string
	namespace   string
}

// BuildConfig configures one architecture-specific worker image build.
type BuildConfig struct {
	// GOARCH is the Go cross-compilation target, e.g. "amd64" or
	// "arm64" — matches the architecture a remote.InstanceType
	// reports.
	GOARCH string

	// ContainerTag distinguishes this build's image tag, typically
	// set to GOARCH.
	ContainerTag string

	// BaseImage is the runtime-stage base image. Defaults to
	// "gcr.io/distroless/static-debian12" when empty — a static Go
	// binary needs no shared libraries or shell.
	BaseImage string

	// ModulePath is the Go package path to build, e.g.
	// "./cmd/gravitation".
	ModulePath string
}

func (c *BuildConfig) applyDefaults() {
	if c.BaseImage == "" {
		c.BaseImage = "gcr.io/distroless/static-debian12"
	}
	if c.ModulePath == "" {
		c.ModulePath = "./cmd/gravitation"
	}
}

type dockerfileData struct {
	GOARCH     string
	BaseImage  string
	ModulePath string
}

const workerDockerfileTemplate = `# Multi-stage build for {{ .GOARCH }}
FROM golang:1.22 AS builder
WORKDIR /src
COPY . .
RUN CGO_ENABLED=0 GOOS=linux GOARCH={{ .GOARCH }} go build -o /out/gravitation-worker {{ .ModulePath }}

FROM {{ .BaseImage }}
COPY --from=builder /out/gravitation-worker /usr/local/bin/gravitation-worker
ENTRYPOINT ["/usr/local/bin/gravitation-worker", "worker"]
`

// NewBuilder creates a container builder publishing to
// {registryURL}/{namespace}:worker-{tag}.
func NewBuilder(registryURL, namespace string) *Builder {
	return &Builder{registryURL: registryURL, namespace: namespace}
}

// GenerateDockerfile renders the worker Dockerfile for cfg.
func (b *Builder) GenerateDockerfile(cfg BuildConfig) (string, error) {
	cfg.applyDefaults()

	tmpl, err := template.New("dockerfile").Parse(workerDockerfileTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var result strings.Builder
	if err := tmpl.Execute(&result, dockerfileData{
		GOARCH:     cfg.GOARCH,
		BaseImage:  cfg.BaseImage,
		ModulePath: cfg.ModulePath,
	}); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return result.String(), nil
}

func (b *Builder) imageName(cfg BuildConfig) string {
	return fmt.Sprintf("%s/%s:worker-%s", b.registryURL, b.namespace, cfg.ContainerTag)
}

// BuildContainer writes cfg's Dockerfile into a build directory and
// runs `docker build` against it.
func (b *Builder) BuildContainer(ctx context.Context, cfg BuildConfig) error {
	cfg.applyDefaults()

	buildDir := filepath.Join("builds", cfg.ContainerTag)
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}

	dockerfile, err := b.GenerateDockerfile(cfg)
	if err != nil {
		return fmt.Errorf("failed to generate dockerfile: %w", err)
	}

	dockerfilePath := filepath.Join(buildDir, "Dockerfile")
	if err := os.WriteFile(dockerfilePath, []byte(dockerfile), 0o644); err != nil {
		return fmt.Errorf("failed to write dockerfile: %w", err)
	}

	imageName := b.imageName(cfg)
	cmd := exec.CommandContext(ctx, "docker", "build", "-t", imageName, "-f", dockerfilePath, ".")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker build failed: %w", err)
	}

	fmt.Printf("Successfully built container: %s\n", imageName)
	return nil
}

// PushContainer uploads cfg's built image to the configured registry.
func (b *Builder) PushContainer(ctx context.Context, cfg BuildConfig) error {
	imageName := b.imageName(cfg)

	cmd := exec.CommandContext(ctx, "docker", "push", imageName)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker push failed: %w", err)
	}

	fmt.Printf("Successfully pushed container: %s\n", imageName)
	return nil
}
