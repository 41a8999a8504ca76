package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodedErrorFormatting(t *testing.T) {
	err := New(CodeTabNotFound, "no tab matched", nil)
	if got, want := err.Error(), "TAB_NOT_FOUND: no tab matched"; got != want {
		t.Fatalf("Error() = %q; want %q", got, want)
	}

	cause := errors.New("dial tcp: refused")
	err = New(CodeAttachFailed, "connect", cause)
	if got, want := err.Error(), "ATTACH_FAILED: connect: dial tcp: refused"; got != want {
		t.Fatalf("Error() = %q; want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false; want true")
	}
}

func TestCodeOfAndHasCode(t *testing.T) {
	inner := New(CodeDownloadTimeout, "no download", nil)
	outer := New(CodeRetryExhausted, "second attempt failed", inner)
	wrapped := fmt.Errorf("pipeline: %w", outer)

	if got := CodeOf(wrapped); got != CodeRetryExhausted {
		t.Fatalf("CodeOf() = %q; want %q", got, CodeRetryExhausted)
	}
	if !HasCode(wrapped, CodeDownloadTimeout) {
		t.Fatalf("HasCode(DOWNLOAD_TIMEOUT) = false; want true")
	}
	if HasCode(wrapped, CodeStaleContent) {
		t.Fatalf("HasCode(STALE_CONTENT) = true; want false")
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain) = %q; want empty", got)
	}
}
