package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blext-tools/blext/internal/archive"
	"github.com/blext-tools/blext/internal/blenderproc"
	"github.com/blext-tools/blext/internal/blplatform"
	"github.com/blext-tools/blext/internal/catalog"
	"github.com/blext-tools/blext/internal/depgraph"
	"github.com/blext-tools/blext/internal/descriptor"
	"github.com/blext-tools/blext/internal/fetch"
	"github.com/blext-tools/blext/internal/lockfile"
	"github.com/blext-tools/blext/internal/projectcache"
	"github.com/blext-tools/blext/internal/specification"
	"github.com/blext-tools/blext/internal/wheel"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "blext",
		Short:         "Build and package Blender extensions",
		Long:          "blext builds version- and platform-chunked Blender extension archives from a project or single-file script descriptor.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("script", "", "Path to a single-file script descriptor (default: look for a project descriptor in --dir)")
	rootCmd.PersistentFlags().String("dir", ".", "Project directory (ignored when --script is set)")
	rootCmd.PersistentFlags().String("cache-dir", "", "Override the cache root (default: $BLEXT_CACHE_DIR, else the per-user cache dir; the project dir is not used)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Resolve, fetch, and pack extension archives for every (Blender version, platform) cell",
		RunE:  runBuild,
	}

	buildCmd.Flags().String("out-dir", "dist", "Output directory for final archives")
	buildCmd.Flags().String("profile", "", "Release profile to embed as init_settings.toml")
	buildCmd.Flags().Int("jobs", 0, "Max concurrent wheel downloads (default: GOMAXPROCS)")
	buildCmd.Flags().Bool("validate", false, "Run the Blender validator against each built archive")
	buildCmd.Flags().Bool("overwrite", false, "Overwrite a final archive that already exists at the output path")
	buildCmd.Flags().String("blender-bin", "blender", "Blender executable used by --validate")

	validateCmd := &cobra.Command{
		Use:   "validate [archive.zip]...",
		Short: "Validate built archives with Blender's own extension validator",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}

	validateCmd.Flags().String("blender-bin", "blender", "Blender executable")

	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Regenerate the lockfile after editing the descriptor",
		RunE:  runLock,
	}

	lockCmd.Flags().String("lock-tool-bin", "blext", "Lock tool executable")

	rootCmd.AddCommand(buildCmd, validateCmd, lockCmd)

	return rootCmd.Execute()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level

	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func persistentFlags(cmd *cobra.Command) (scriptPath, dir, cacheDir, logLevel string) {
	scriptPath, _ = cmd.Flags().GetString("script")
	dir, _ = cmd.Flags().GetString("dir")
	cacheDir, _ = cmd.Flags().GetString("cache-dir")
	logLevel, _ = cmd.Flags().GetString("log-level")

	return scriptPath, dir, cacheDir, logLevel
}

// loadProject parses the descriptor for either a single-file script or a
// project directory, and returns the lockfile path it expects alongside it.
func loadProject(scriptPath, dir string) (desc *descriptor.Descriptor, lockPath string, err error) {
	if scriptPath != "" {
		source, err := os.ReadFile(scriptPath)
		if err != nil {
			return nil, "", fmt.Errorf("reading script %s: %w", scriptPath, err)
		}

		desc, err = descriptor.ParseScript(source)
		if err != nil {
			return nil, "", fmt.Errorf("parsing script descriptor: %w", err)
		}

		return desc, strings.TrimSuffix(scriptPath, filepath.Ext(scriptPath)) + ".lock", nil
	}

	descPath := filepath.Join(dir, "pyproject.toml")

	data, err := os.ReadFile(descPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading project descriptor %s: %w", descPath, err)
	}

	desc, err = descriptor.Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("parsing project descriptor: %w", err)
	}

	return desc, filepath.Join(dir, "lock"), nil
}

func runBuild(cmd *cobra.Command, _ []string) error {
	scriptPath, dir, cacheDir, logLevel := persistentFlags(cmd)
	outDir, _ := cmd.Flags().GetString("out-dir")
	profile, _ := cmd.Flags().GetString("profile")
	jobs, _ := cmd.Flags().GetInt("jobs")
	doValidate, _ := cmd.Flags().GetBool("validate")
	blenderBin, _ := cmd.Flags().GetString("blender-bin")
	overwrite, _ := cmd.Flags().GetBool("overwrite")

	logger := newLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()

	desc, lockPath, err := loadProject(scriptPath, dir)
	if err != nil {
		return err
	}

	isScript := desc.IsScript()

	lf, err := lockfile.Parse(lockPath)
	if err != nil {
		return fmt.Errorf("loading lockfile: %w", err)
	}

	rootName := depgraph.NormalizeName(desc.Project.Name)

	graph, err := depgraph.Build(lf, rootName)
	if err != nil {
		return fmt.Errorf("building dependency graph: %w", err)
	}

	spec, err := specification.New(specification.Config{
		Descriptor: desc,
		Graph:      graph,
		Lockfile:   lf,
		RootName:   rootName,
		IsScript:   isScript,
	})
	if err != nil {
		return fmt.Errorf("building specification: %w", err)
	}

	cacheScriptKey := ""
	if isScript {
		cacheScriptKey = scriptPath
	}

	cache, err := projectcache.New(cacheScriptKey, projectcache.WithDir(cacheDir), projectcache.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("setting up cache: %w", err)
	}

	wheelDir := filepath.Join(cache.Dir(), string(projectcache.Wheels))

	missing := spec.QueryMissingWheels(wheelDir, nil, nil)

	if len(missing) > 0 {
		fmt.Printf("Fetching %d wheel(s)...\n", len(missing))

		if err := fetchWheels(ctx, wheelDir, missing, jobs, logger); err != nil {
			return fmt.Errorf("fetching wheels: %w", err)
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", outDir, err)
	}

	prepackDir := filepath.Join(cache.Dir(), string(projectcache.Prepack))

	var client *blenderproc.Client
	if doValidate {
		client = blenderproc.New(blenderproc.WithBlenderBin(blenderBin), blenderproc.WithLogger(logger))
	}

	built := 0

	for _, chunkVersion := range spec.ChunkVersions {
		for _, platformSet := range spec.PlatformChunks {
			zipPath := spec.ExtensionZipPath(outDir, chunkVersion, platformSet)

			if err := buildCell(spec, chunkVersion, platformSet, wheelDir, prepackDir, zipPath, dir, scriptPath, isScript, profile, overwrite); err != nil {
				return fmt.Errorf("building %s: %w", filepath.Base(zipPath), err)
			}

			fmt.Printf("  ✓ %s\n", zipPath)

			if doValidate {
				if err := client.Validate(ctx, zipPath); err != nil {
					return err
				}

				fmt.Printf("    validated\n")
			}

			built++
		}
	}

	fmt.Printf("\nBuilt %d archive(s) in %.1fs\n", built, time.Since(start).Seconds())

	return nil
}

// fetchWheels downloads every missing wheel into wheelDir, printing
// coarse-grained progress as each one starts and finishes.
func fetchWheels(ctx context.Context, wheelDir string, wheels []wheel.Wheel, jobs int, logger *slog.Logger) error {
	if err := os.MkdirAll(wheelDir, 0o755); err != nil {
		return fmt.Errorf("creating wheel cache directory %s: %w", wheelDir, err)
	}

	opts := []fetch.Option{
		fetch.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		fetch.WithLogger(logger),
		fetch.WithOnStart(func(w wheel.Wheel) {
			fmt.Printf("  ↓ %s\n", w.Filename())
		}),
		fetch.WithOnFinish(func(w wheel.Wheel, _ fetch.Result, err error) {
			if err != nil {
				fmt.Printf("  ✗ %s: %v\n", w.Filename(), err)
			}
		}),
	}

	if jobs > 0 {
		opts = append(opts, fetch.WithMaxWorkers(jobs))
	}

	manager := fetch.New(wheelDir, opts...)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	go func() {
		<-ctx.Done()
		manager.Abort()
	}()

	_, err := manager.Fetch(ctx, wheels)

	return err
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, _, _, logLevel := persistentFlags(cmd)
	blenderBin, _ := cmd.Flags().GetString("blender-bin")

	logger := newLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := blenderproc.New(blenderproc.WithBlenderBin(blenderBin), blenderproc.WithLogger(logger))

	for _, zipPath := range args {
		if err := client.Validate(ctx, zipPath); err != nil {
			return err
		}

		fmt.Printf("  ✓ %s\n", zipPath)
	}

	return nil
}

func runLock(cmd *cobra.Command, _ []string) error {
	scriptPath, dir, _, logLevel := persistentFlags(cmd)
	lockToolBin, _ := cmd.Flags().GetString("lock-tool-bin")

	logger := newLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := blenderproc.New(blenderproc.WithLockToolBin(lockToolBin), blenderproc.WithLogger(logger))

	if scriptPath != "" {
		if err := client.Lock(ctx, "", scriptPath); err != nil {
			return err
		}
	} else {
		if err := client.Lock(ctx, dir, ""); err != nil {
			return err
		}
	}

	fmt.Println("  ✓ lockfile regenerated")

	return nil
}

func buildCell(
	spec *specification.Specification,
	chunkVersion catalog.BLVersion,
	platformSet blplatform.Set,
	wheelDir, prepackDir, zipPath, srcDir, scriptPath string,
	isScript bool,
	profile string,
	overwrite bool,
) error {
	wheelEntries := make([]archive.Entry, 0)

	for _, p := range spec.WheelPathsToPrepack(wheelDir, chunkVersion, platformSet) {
		wheelEntries = append(wheelEntries, archive.Entry{DiskPath: p.DiskPath, ArchivePath: p.ArchivePath, Size: p.Size})
	}

	prepackPath := filepath.Join(prepackDir, spec.ExtensionFilename(chunkVersion, platformSet)+".zip")
	if err := archive.PrePack(prepackPath, wheelEntries); err != nil {
		return fmt.Errorf("pre-packing wheels: %w", err)
	}

	manifestStr, err := spec.ManifestStr(schemaVersionFor(chunkVersion), chunkVersion, platformSet)
	if err != nil {
		return fmt.Errorf("building manifest: %w", err)
	}

	manifestPath, cleanupManifest, err := writeTempFile("blender_manifest-*.toml", manifestStr)
	if err != nil {
		return err
	}
	defer cleanupManifest()

	entries := []archive.Entry{
		{DiskPath: manifestPath, ArchivePath: "blender_manifest.toml", Size: int64(len(manifestStr))},
	}

	if profile != "" {
		settingsEntry, cleanupSettings, err := initSettingsEntry(spec, profile)
		if err != nil {
			return err
		}
		defer cleanupSettings()

		entries = append(entries, settingsEntry)
	}

	srcEntries, err := sourceEntries(srcDir, scriptPath, isScript)
	if err != nil {
		return err
	}

	entries = append(entries, srcEntries...)

	return archive.FinalPack(zipPath, prepackPath, entries, overwrite)
}

// schemaVersionFor picks the manifest schema version for the cell: "1.0.0
// unless the target Blender explicitly advertises another".
func schemaVersionFor(chunkVersion catalog.BLVersion) string {
	versions := chunkVersion.ValidManifestVersions()
	for _, v := range versions {
		if v == "1.0.0" {
			return v
		}
	}

	if len(versions) > 0 {
		return versions[0]
	}

	return "1.0.0"
}

// initSettingsEntry renders init_settings.toml for the named release
// profile and stages it as a temp file ready for archive.FinalPack.
func initSettingsEntry(spec *specification.Specification, profile string) (archive.Entry, func(), error) {
	settings, err := spec.InitSettingsStr(profile)
	if err != nil {
		return archive.Entry{}, nil, fmt.Errorf("building init settings for profile %q: %w", profile, err)
	}

	path, cleanup, err := writeTempFile("init_settings-*.toml", settings)
	if err != nil {
		return archive.Entry{}, nil, err
	}

	return archive.Entry{DiskPath: path, ArchivePath: "init_settings.toml", Size: int64(len(settings))}, cleanup, nil
}

func writeTempFile(pattern, content string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())

		return "", nil, fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())

		return "", nil, fmt.Errorf("closing temp file: %w", err)
	}

	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}

// sourceEntries collects the extension's own source: the script file as
// __init__.py, or the project directory tree (minus build/config
// artifacts) for a project extension.
func sourceEntries(srcDir, scriptPath string, isScript bool) ([]archive.Entry, error) {
	if isScript {
		info, err := os.Stat(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("stat script %s: %w", scriptPath, err)
		}

		return []archive.Entry{{DiskPath: scriptPath, ArchivePath: "__init__.py", Size: info.Size()}}, nil
	}

	var entries []archive.Entry

	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			switch d.Name() {
			case ".git", "__pycache__", "dist", ".venv", "node_modules":
				return filepath.SkipDir
			}

			return nil
		}

		if strings.HasSuffix(path, ".lock") || filepath.Base(path) == "pyproject.toml" || filepath.Base(path) == "lock" {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		entries = append(entries, archive.Entry{
			DiskPath:    path,
			ArchivePath: filepath.ToSlash(rel),
			Size:        info.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting source tree under %s: %w", srcDir, err)
	}

	return entries, nil
}
