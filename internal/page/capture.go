package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgnsrekt/portal_export/internal/failure"
)

const stagingDirName = ".incoming"

// Artifact is a downloaded file persisted in the download directory.
type Artifact struct {
	Path              string `json:"path"`
	SuggestedFilename string `json:"suggested_filename"`
}

// Capturer persists downloads into a fixed directory.
type Capturer struct {
	dir string
}

// NewCapturer creates dir (and its staging subdirectory) if needed.
func NewCapturer(dir string) (*Capturer, error) {
	if err := os.MkdirAll(filepath.Join(dir, stagingDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	return &Capturer{dir: dir}, nil
}

// Dir returns the directory artifacts are written to.
func (c *Capturer) Dir() string { return c.dir }

// Capture arms a download listener on p, fires trigger, and waits up to
// timeout for the download to start and complete. The file is moved to the
// download directory under its suggested name, replacing any previous file
// with that name.
func (c *Capturer) Capture(ctx context.Context, p Page, trigger Trigger, timeout time.Duration) (Artifact, error) {
	capCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	staging := filepath.Join(c.dir, stagingDirName)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return Artifact{}, failure.New(failure.CodeDownloadFailed, "create staging dir", err)
	}

	// Arm first: a fast download fired before the listener exists is lost.
	dl, err := p.ArmDownload(capCtx, staging)
	if err != nil {
		return Artifact{}, failure.New(failure.CodeDownloadFailed, "arm download listener", err)
	}
	defer dl.Close()

	slog.Debug("download trigger firing", "trigger", trigger.String())
	if err := trigger.fire(capCtx, p, timeout); err != nil {
		if ctx.Err() != nil {
			return Artifact{}, ctx.Err()
		}
		var coded *failure.CodedError
		if errors.As(err, &coded) {
			return Artifact{}, err
		}
		return Artifact{}, failure.New(failure.CodeDownloadFailed, "trigger "+trigger.String(), err)
	}

	suggested, err := dl.Started(capCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Artifact{}, ctx.Err()
		}
		if capCtx.Err() != nil {
			return Artifact{}, failure.New(failure.CodeDownloadTimeout, fmt.Sprintf("no download started within %s", timeout), err)
		}
		return Artifact{}, failure.New(failure.CodeDownloadFailed, "download listener", err)
	}

	staged, err := dl.Completed(capCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Artifact{}, ctx.Err()
		}
		return Artifact{}, failure.New(failure.CodeDownloadFailed, "download did not complete: "+suggested, err)
	}

	dest := filepath.Join(c.dir, artifactName(suggested))
	if err := moveFile(staged, dest); err != nil {
		return Artifact{}, failure.New(failure.CodeDownloadFailed, "persist "+dest, err)
	}

	slog.Info("download saved", "path", dest, "suggested_filename", suggested)
	return Artifact{Path: dest, SuggestedFilename: suggested}, nil
}

func artifactName(suggested string) string {
	name := filepath.Base(strings.ReplaceAll(suggested, `\`, "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "download"
	}
	return name
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across filesystems and, on some platforms, over an
	// existing file.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	_ = os.Remove(dst)
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		slog.Debug("staged download cleanup failed", "path", src, "error", err)
	}
	return nil
}
