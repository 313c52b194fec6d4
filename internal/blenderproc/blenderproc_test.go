package blenderproc_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/blext-tools/blext/internal/blenderproc"
)

func fakeRunner(output string, err error) blenderproc.CommandRunner {
	return func(_ context.Context, _, _ string, _ ...string) ([]byte, error) {
		return []byte(output), err
	}
}

func TestProbeVersion(t *testing.T) {
	client := blenderproc.New(blenderproc.WithCommandRunner(fakeRunner(
		"Blender 4.2.3\n"+
			"\tbuild date: 2024-07-16\n"+
			"\tbuild time: 09:12:43\n"+
			"\tbuild commit date: 2024-07-15\n"+
			"\tbuild commit time: 21:04:00\n"+
			"\tbuild hash: abcdef0123\n"+
			"\tbuild branch: blender-v4.2-release\n"+
			"\tbuild platform: Linux\n"+
			"\tbuild type: Release\n", nil,
	)))

	v, err := client.ProbeVersion(context.Background())
	if err != nil {
		t.Fatalf("ProbeVersion() error: %v", err)
	}

	if v.Major != 4 || v.Minor != 2 || v.Patch != 3 {
		t.Errorf("version = %d.%d.%d, want 4.2.3", v.Major, v.Minor, v.Patch)
	}

	if v.Hash != "abcdef0123" {
		t.Errorf("hash = %q, want %q", v.Hash, "abcdef0123")
	}

	if v.Platform != "Linux" {
		t.Errorf("platform = %q, want %q", v.Platform, "Linux")
	}
}

func TestProbeVersionMissingFieldsAggregated(t *testing.T) {
	client := blenderproc.New(blenderproc.WithCommandRunner(fakeRunner("Blender 4.2.3\n", nil)))

	_, err := client.ProbeVersion(context.Background())
	if err == nil {
		t.Fatal("expected error for missing fields, got nil")
	}

	for _, field := range []string{"hash", "build date", "build time", "platform"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("expected error to mention missing field %q, got %q", field, err.Error())
		}
	}
}

func TestProbeVersionNoVersionToken(t *testing.T) {
	client := blenderproc.New(blenderproc.WithCommandRunner(fakeRunner("not a version line\n", nil)))

	_, err := client.ProbeVersion(context.Background())
	if err == nil {
		t.Fatal("expected error when no version token present, got nil")
	}
}

func TestValidateSuccess(t *testing.T) {
	var capturedArgs []string

	client := blenderproc.New(blenderproc.WithCommandRunner(
		func(_ context.Context, _, _ string, args ...string) ([]byte, error) {
			capturedArgs = args

			return nil, nil
		},
	))

	if err := client.Validate(context.Background(), "/tmp/my_ext.zip"); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	want := []string{"--factory-startup", "--command", "extension", "validate", "/tmp/my_ext.zip"}
	if len(capturedArgs) != len(want) {
		t.Fatalf("args = %v, want %v", capturedArgs, want)
	}

	for i := range want {
		if capturedArgs[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, capturedArgs[i], want[i])
		}
	}
}

func TestValidateFailureSurfacesStderr(t *testing.T) {
	client := blenderproc.New(blenderproc.WithCommandRunner(
		fakeRunner("error: manifest missing field 'id'\n", errors.New("exit status 1")),
	))

	err := client.Validate(context.Background(), "/tmp/bad_ext.zip")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var verr *blenderproc.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}

	if !strings.Contains(verr.Stderr, "manifest missing field") {
		t.Errorf("expected stderr in error, got %q", verr.Stderr)
	}
}

func TestLockWithScript(t *testing.T) {
	var capturedDir string

	var capturedArgs []string

	client := blenderproc.New(
		blenderproc.WithLockToolBin("blext"),
		blenderproc.WithCommandRunner(func(_ context.Context, dir, _ string, args ...string) ([]byte, error) {
			capturedDir = dir
			capturedArgs = args

			return nil, nil
		}),
	)

	if err := client.Lock(context.Background(), "", "/tmp/my_script.py"); err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	if capturedDir != "" {
		t.Errorf("expected empty dir for script lock, got %q", capturedDir)
	}

	want := []string{"lock", "--script", "/tmp/my_script.py"}
	if len(capturedArgs) != len(want) {
		t.Fatalf("args = %v, want %v", capturedArgs, want)
	}
}

func TestLockWithProjectDir(t *testing.T) {
	var capturedArgs []string

	client := blenderproc.New(blenderproc.WithCommandRunner(
		func(_ context.Context, _, _ string, args ...string) ([]byte, error) {
			capturedArgs = args

			return nil, nil
		},
	))

	if err := client.Lock(context.Background(), "/home/user/project", ""); err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	if len(capturedArgs) != 1 || capturedArgs[0] != "lock" {
		t.Errorf("args = %v, want [lock]", capturedArgs)
	}
}

func TestLockFailureSurfacesStderr(t *testing.T) {
	client := blenderproc.New(blenderproc.WithCommandRunner(
		fakeRunner("error: unresolvable dependency foo\n", errors.New("exit status 1")),
	))

	err := client.Lock(context.Background(), "/home/user/project", "")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var lerr *blenderproc.LockError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
}
