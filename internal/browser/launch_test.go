package browser

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/dgnsrekt/portal_export/internal/failure"
)

func TestProfileLocked(t *testing.T) {
	host, err := os.Hostname()
	if err != nil {
		t.Skip("hostname unavailable")
	}

	live := t.TempDir()
	if err := os.Symlink(host+"-"+strconv.Itoa(os.Getpid()), filepath.Join(live, "SingletonLock")); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	if _, locked := profileLocked(live); !locked {
		t.Fatal("profileLocked() = false; want true for a live owner")
	}

	stale := t.TempDir()
	if err := os.Symlink(host+"-99999999", filepath.Join(stale, "SingletonLock")); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}
	if _, locked := profileLocked(stale); locked {
		t.Fatal("profileLocked() = true; want false for a dead owner")
	}

	if _, locked := profileLocked(t.TempDir()); locked {
		t.Fatal("profileLocked() = true; want false without a lock")
	}
}

func TestLaunchFailsWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	l := NewLaunchPersistent(LaunchConfig{
		ProfileDir:   filepath.Join(t.TempDir(), "profile"),
		DownloadDir:  filepath.Join(t.TempDir(), "downloads"),
		DebugAddress: "127.0.0.1",
		DebugPort:    port,
	})
	_, err = l.Acquire(context.Background())
	if got := failure.CodeOf(err); got != failure.CodeLaunchFailed {
		t.Fatalf("Acquire() code = %q; want %q", got, failure.CodeLaunchFailed)
	}
}

func TestLaunchFailsWhenBinaryMissing(t *testing.T) {
	l := NewLaunchPersistent(LaunchConfig{
		ProfileDir:  filepath.Join(t.TempDir(), "profile"),
		DownloadDir: filepath.Join(t.TempDir(), "downloads"),
		DebugPort:   freePort(t),
		BrowserPath: filepath.Join(t.TempDir(), "no-such-chrome"),
	})
	_, err := l.Acquire(context.Background())
	if got := failure.CodeOf(err); got != failure.CodeLaunchFailed {
		t.Fatalf("Acquire() code = %q; want %q", got, failure.CodeLaunchFailed)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
