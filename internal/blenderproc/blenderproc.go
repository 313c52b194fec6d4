// Package blenderproc is the external-collaborator boundary for the two
// subprocesses this module only ever treats as black boxes: the Blender
// binary (version probing and manifest validation) and the lock tool
// (lockfile regeneration). Adapted from
// bilusteknoloji-pipg/internal/python/env.go's CommandRunner/Option/Service
// shape, generalized from one detector to three thin collaborators sharing
// the same command-running plumbing.
package blenderproc

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner executes a command and returns its combined stdout+stderr,
// plus any error exec.Cmd reports (including *exec.ExitError).
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Option configures a Client.
type Option func(*Client)

// WithBlenderBin sets the Blender executable path. Defaults to "blender".
func WithBlenderBin(bin string) Option {
	return func(c *Client) {
		if bin != "" {
			c.blenderBin = bin
		}
	}
}

// WithLockToolBin sets the lock tool executable path. Defaults to "blext".
func WithLockToolBin(bin string) Option {
	return func(c *Client) {
		if bin != "" {
			c.lockToolBin = bin
		}
	}
}

// WithCommandRunner overrides how subprocesses are invoked.
func WithCommandRunner(fn CommandRunner) Option {
	return func(c *Client) {
		if fn != nil {
			c.runCmd = fn
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client is the external-collaborator handle for Blender and the lock tool.
type Client struct {
	blenderBin  string
	lockToolBin string
	runCmd      CommandRunner
	logger      *slog.Logger
}

// New creates a Client. No subprocess is run until a method is called.
func New(opts ...Option) *Client {
	c := &Client{
		blenderBin:  "blender",
		lockToolBin: "blext",
		runCmd:      defaultRunCmd,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Version is the parsed output of `blender --version`.
type Version struct {
	Major, Minor, Patch int
	BuildDate           string
	BuildTime           string
	CommitDate          string
	CommitTime          string
	Hash                string
	Branch               string
	Platform             string
	BuildType            string
	CFlags               string
	CxxFlags             string
	LinkFlags            string
	BuildSystem          string
}

var versionFieldSetters = map[string]func(*Version, string){
	"build date":    func(v *Version, s string) { v.BuildDate = s },
	"build time":    func(v *Version, s string) { v.BuildTime = s },
	"build commit date": func(v *Version, s string) { v.CommitDate = s },
	"build commit time": func(v *Version, s string) { v.CommitTime = s },
	"build hash":        func(v *Version, s string) { v.Hash = s },
	"build branch":      func(v *Version, s string) { v.Branch = s },
	"build platform":    func(v *Version, s string) { v.Platform = s },
	"build type":    func(v *Version, s string) { v.BuildType = s },
	"build c flags": func(v *Version, s string) { v.CFlags = s },
	"build c++ flags": func(v *Version, s string) { v.CxxFlags = s },
	"build link flags": func(v *Version, s string) { v.LinkFlags = s },
	"build system":     func(v *Version, s string) { v.BuildSystem = s },
}

// requiredVersionFields are the keys a well-formed `blender --version`
// output must carry; any missing are aggregated and reported together.
var requiredVersionFields = []string{"build hash", "build date", "build time", "build platform"}

// ProbeVersion runs `blender --version` and parses its output: line 1 is
// tokenized for the M.m.p release number, trailing lines of form
// "key: value" populate the build metadata fields.
func (c *Client) ProbeVersion(ctx context.Context) (Version, error) {
	out, err := c.runCmd(ctx, "", c.blenderBin, "--version")
	if err != nil {
		return Version{}, fmt.Errorf("running %s --version: %w", c.blenderBin, err)
	}

	v, err := parseVersionOutput(string(out))
	if err != nil {
		return Version{}, fmt.Errorf("parsing %s --version output: %w", c.blenderBin, err)
	}

	c.logger.Debug("probed blender version",
		slog.Int("major", v.Major), slog.Int("minor", v.Minor), slog.Int("patch", v.Patch))

	return v, nil
}

func parseVersionOutput(out string) (Version, error) {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return Version{}, fmt.Errorf("empty output")
	}

	major, minor, patch, err := tokenizeVersionLine(lines[0])
	if err != nil {
		return Version{}, err
	}

	v := Version{Major: major, Minor: minor, Patch: patch}

	seen := map[string]bool{}

	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if setter, ok := versionFieldSetters[key]; ok {
			setter(&v, value)
			seen[key] = true
		}
	}

	var missing []string

	for _, field := range requiredVersionFields {
		if !seen[field] {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		return Version{}, fmt.Errorf("missing fields in version output: %s", strings.Join(missing, ", "))
	}

	return v, nil
}

// tokenizeVersionLine extracts the M.m.p triple from a line like
// "Blender 4.2.3 (hash abcdef123)".
func tokenizeVersionLine(line string) (int, int, int, error) {
	for _, token := range strings.Fields(line) {
		parts := strings.SplitN(token, ".", 3)
		if len(parts) != 3 {
			continue
		}

		nums := make([]int, 3)

		ok := true

		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimFunc(p, func(r rune) bool { return r < '0' || r > '9' }))
			if err != nil {
				ok = false

				break
			}

			nums[i] = n
		}

		if ok {
			return nums[0], nums[1], nums[2], nil
		}
	}

	return 0, 0, 0, fmt.Errorf("no M.m.p version token found in %q", line)
}

// ValidationError carries the stderr lines Blender's validator produced for
// a non-zero exit, under the invoked command for attribution.
type ValidationError struct {
	Command string
	Stderr  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed:\n%s", e.Command, e.Stderr)
}

// Validate invokes `blender --factory-startup --command extension validate
// <zip>`. A zero exit means valid; a non-zero exit surfaces the captured
// output as a *ValidationError.
func (c *Client) Validate(ctx context.Context, zipPath string) error {
	args := []string{"--factory-startup", "--command", "extension", "validate", zipPath}

	out, err := c.runCmd(ctx, "", c.blenderBin, args...)
	if err != nil {
		return &ValidationError{
			Command: fmt.Sprintf("%s %s", c.blenderBin, strings.Join(args, " ")),
			Stderr:  string(out),
		}
	}

	c.logger.Info("validated extension archive", slog.String("path", zipPath))

	return nil
}

// LockError carries the stderr lines the lock tool produced for a non-zero
// exit, under the invoked command for attribution.
type LockError struct {
	Command string
	Stderr  string
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s: lock failed:\n%s", e.Command, e.Stderr)
}

// Lock regenerates the lockfile after the descriptor has been rewritten.
// For a project directory, dir is the project root and scriptPath is empty;
// for a single-file script, dir is empty and scriptPath names the script.
func (c *Client) Lock(ctx context.Context, dir, scriptPath string) error {
	args := []string{"lock"}
	if scriptPath != "" {
		args = append(args, "--script", scriptPath)
	}

	out, err := c.runCmd(ctx, dir, c.lockToolBin, args...)
	if err != nil {
		return &LockError{
			Command: fmt.Sprintf("%s %s", c.lockToolBin, strings.Join(args, " ")),
			Stderr:  string(out),
		}
	}

	c.logger.Info("regenerated lockfile", slog.String("script", scriptPath), slog.String("dir", dir))

	return nil
}

func defaultRunCmd(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("running %s: %w", name, err)
	}

	return out, nil
}
