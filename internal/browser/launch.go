package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/portal_export/internal/cdpcontrol"
	"github.com/dgnsrekt/portal_export/internal/failure"
)

// LaunchConfig holds browser launch configuration.
type LaunchConfig struct {
	ProfileDir     string
	DownloadDir    string
	DebugAddress   string
	DebugPort      int
	BrowserPath    string
	Headless       bool
	WindowWidth    int
	WindowHeight   int
	StartupTimeout time.Duration
	EvalTimeout    time.Duration
}

// LaunchPersistent starts a browser on a durable profile and owns its whole
// lifecycle: release closes the browser.
type LaunchPersistent struct {
	cfg LaunchConfig
}

func NewLaunchPersistent(cfg LaunchConfig) *LaunchPersistent {
	if cfg.DebugAddress == "" {
		cfg.DebugAddress = "127.0.0.1"
	}
	if cfg.DebugPort == 0 {
		cfg.DebugPort = 9333
	}
	if cfg.WindowWidth == 0 || cfg.WindowHeight == 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 15 * time.Second
	}
	return &LaunchPersistent{cfg: cfg}
}

func (l *LaunchPersistent) Name() string { return "launch-persistent" }

func (l *LaunchPersistent) Acquire(ctx context.Context) (*Session, error) {
	cfg := l.cfg
	if isPortInUse(cfg.DebugAddress, cfg.DebugPort) {
		return nil, failure.Newf(failure.CodeLaunchFailed, "debug port %s:%d already in use", cfg.DebugAddress, cfg.DebugPort)
	}

	browserPath := cfg.BrowserPath
	if browserPath == "" {
		path, err := detectBrowser()
		if err != nil {
			return nil, failure.New(failure.CodeLaunchFailed, "browser binary missing", err)
		}
		browserPath = path
	} else if _, err := os.Stat(browserPath); err != nil {
		return nil, failure.New(failure.CodeLaunchFailed, "browser binary missing", err)
	}
	slog.Info("detected browser", "path", browserPath)

	if err := os.MkdirAll(cfg.ProfileDir, 0o755); err != nil {
		return nil, failure.New(failure.CodeLaunchFailed, "create profile dir", err)
	}
	downloads, err := filepath.Abs(cfg.DownloadDir)
	if err != nil {
		return nil, failure.New(failure.CodeLaunchFailed, "resolve download dir", err)
	}
	if err := os.MkdirAll(downloads, 0o755); err != nil {
		return nil, failure.New(failure.CodeLaunchFailed, "create download dir", err)
	}
	if owner, locked := profileLocked(cfg.ProfileDir); locked {
		return nil, failure.Newf(failure.CodeLaunchFailed, "profile %s is locked by %s", cfg.ProfileDir, owner)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(browserPath),
		chromedp.UserDataDir(cfg.ProfileDir),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(cfg.DebugPort)),
		chromedp.Flag("remote-debugging-address", cfg.DebugAddress),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.WSURLReadTimeout(cfg.StartupTimeout),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The browser must outlive Acquire, so only startup is tied to ctx.
	stop := context.AfterFunc(ctx, allocCancel)
	err = chromedp.Run(browserCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloads).
			WithEventsEnabled(true),
	)
	stopped := stop()
	if err != nil || !stopped {
		browserCancel()
		allocCancel()
		if err == nil {
			err = ctx.Err()
		}
		return nil, launchError(err)
	}

	teardownBrowser := func() error {
		closeCtx, cancel := context.WithTimeout(browserCtx, 10*time.Second)
		defer cancel()
		err := chromedp.Cancel(closeCtx)
		browserCancel()
		allocCancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	targetID := string(chromedp.FromContext(browserCtx).Target.TargetID)
	cdpURL := fmt.Sprintf("http://%s:%d", cfg.DebugAddress, cfg.DebugPort)
	client := cdpcontrol.NewClient(cdpURL, cfg.EvalTimeout)
	tab, err := attachLaunchedTab(ctx, client, targetID)
	if err != nil {
		_ = client.Close()
		_ = teardownBrowser()
		return nil, failure.New(failure.CodeLaunchFailed, "attach to launched browser", err)
	}

	slog.Info("browser launched", "profile_dir", cfg.ProfileDir, "cdp_url", cdpURL, "target_id", targetID, "headless", cfg.Headless)
	return newSession(l.Name(), client, tab, func() error {
		return errors.Join(client.Close(), teardownBrowser())
	}), nil
}

func attachLaunchedTab(ctx context.Context, client *cdpcontrol.Client, targetID string) (*cdpcontrol.Tab, error) {
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	tabs, err := client.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range tabs {
		if info.TargetID == targetID {
			return client.Tab(ctx, info)
		}
	}
	if len(tabs) == 0 {
		return nil, errors.New("launched browser exposes no page tab")
	}
	return client.Tab(ctx, tabs[0])
}

func launchError(err error) error {
	msg := "start browser"
	if strings.Contains(err.Error(), "ProcessSingleton") || strings.Contains(err.Error(), "SingletonLock") {
		msg = "profile is in use by another browser process"
	}
	return failure.New(failure.CodeLaunchFailed, msg, err)
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser() (string, error) {
	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried %s)", strings.Join(candidates, ", "))
}

// isPortInUse checks whether a TCP port is already listening.
func isPortInUse(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// profileLocked reports whether a live browser holds the profile. Chromium
// leaves a SingletonLock symlink pointing at "<host>-<pid>"; a lock whose
// process is gone is stale and ignored.
func profileLocked(profileDir string) (string, bool) {
	owner, err := os.Readlink(filepath.Join(profileDir, "SingletonLock"))
	if err != nil {
		return "", false
	}
	i := strings.LastIndex(owner, "-")
	if i < 0 {
		return owner, true
	}
	pid, err := strconv.Atoi(owner[i+1:])
	if err != nil {
		return owner, true
	}
	host, _ := os.Hostname()
	if host != "" && owner[:i] != host {
		return owner, true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return "", false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return "", false
	}
	return owner, true
}
