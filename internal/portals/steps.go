package portals

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/page"
	"github.com/dgnsrekt/portal_export/internal/wait"
)

// Step actions.
const (
	ActionClick       = "click"
	ActionWaitVisible = "wait_visible"
	ActionWaitHidden  = "wait_hidden"
	ActionWaitURL     = "wait_url"
	ActionFill        = "fill"
	ActionSleep       = "sleep"
)

const defaultStepTimeout = 15 * time.Second

// Step is one UI interaction between the landing page and the export.
type Step struct {
	Name     string        `yaml:"name,omitempty"`
	Action   string        `yaml:"action"`
	Selector string        `yaml:"selector,omitempty"`
	Value    string        `yaml:"value,omitempty"`
	ValueEnv string        `yaml:"value_env,omitempty"`
	WhenEnv  string        `yaml:"when_env,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Optional bool          `yaml:"optional,omitempty"`
}

func (s Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Selector != "" {
		return s.Action + " " + s.Selector
	}
	return s.Action + " " + s.Value
}

func (s Step) validate() error {
	switch s.Action {
	case ActionClick, ActionWaitVisible, ActionWaitHidden, ActionFill:
		if s.Selector == "" {
			return failure.Newf(failure.CodeValidation, "step %q needs a selector", s.label())
		}
	case ActionWaitURL:
		if s.Value == "" {
			return failure.Newf(failure.CodeValidation, "step %q needs a URL fragment", s.label())
		}
	case ActionSleep:
		if s.Timeout <= 0 {
			if _, err := time.ParseDuration(s.Value); err != nil {
				return failure.Newf(failure.CodeValidation, "step %q needs a duration", s.label())
			}
		}
	default:
		return failure.Newf(failure.CodeValidation, "step %q has unknown action %q", s.label(), s.Action)
	}
	return nil
}

// RunSteps executes steps in order. A failing optional step is logged and
// skipped; a step whose WhenEnv variable is empty is not run at all.
func RunSteps(ctx context.Context, p page.Page, steps []Step, getenv func(string) string) error {
	for i, s := range steps {
		if s.WhenEnv != "" && getenv(s.WhenEnv) == "" {
			slog.Debug("portal step skipped", "step", s.label(), "when_env", s.WhenEnv)
			continue
		}
		start := time.Now()
		err := runStep(ctx, p, s, getenv)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.Optional {
				slog.Warn("optional portal step failed", "step", s.label(), "index", i, "error", err)
				continue
			}
			return err
		}
		slog.Debug("portal step done", "step", s.label(), "index", i, "elapsed_ms", time.Since(start).Milliseconds())
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expand replaces ${NAME} references. A bare "$" is left alone since CSS
// attribute selectors use it.
func expand(s string, getenv func(string) string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return getenv(ref[2 : len(ref)-1])
	})
}

func runStep(ctx context.Context, p page.Page, s Step, getenv func(string) string) error {
	s.Selector = expand(s.Selector, getenv)
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	switch s.Action {
	case ActionClick:
		if err := page.WaitVisible(ctx, p, s.Selector, timeout); err != nil {
			return failure.New(failure.CodeControlNotFound, "step "+s.label(), err)
		}
		if err := p.Click(ctx, s.Selector); err != nil {
			return failure.New(failure.CodeControlNotFound, "step "+s.label(), err)
		}
	case ActionWaitVisible:
		if err := page.WaitVisible(ctx, p, s.Selector, timeout); err != nil {
			return failure.New(failure.CodeControlNotFound, "step "+s.label(), err)
		}
	case ActionWaitHidden:
		if err := page.WaitHidden(ctx, p, s.Selector, timeout); err != nil {
			return failure.New(failure.CodeNavigationTimeout, "step "+s.label(), err)
		}
	case ActionWaitURL:
		var last string
		err := wait.Poll(ctx, page.PollInterval, timeout, func(ctx context.Context) (bool, error) {
			u, err := p.URL(ctx)
			last = u
			return strings.Contains(u, s.Value), err
		})
		if err != nil {
			return failure.New(failure.CodeNavigationTimeout, fmt.Sprintf("step %s: url is %q", s.label(), last), err)
		}
	case ActionFill:
		value := s.Value
		if s.ValueEnv != "" {
			value = getenv(s.ValueEnv)
			if value == "" {
				return failure.Newf(failure.CodeValidation, "step %s: %s is not set", s.label(), s.ValueEnv)
			}
		}
		if err := page.WaitVisible(ctx, p, s.Selector, timeout); err != nil {
			return failure.New(failure.CodeControlNotFound, "step "+s.label(), err)
		}
		if err := p.Fill(ctx, s.Selector, value); err != nil {
			return failure.New(failure.CodeControlNotFound, "step "+s.label(), err)
		}
	case ActionSleep:
		d := s.Timeout
		if d <= 0 {
			d, _ = time.ParseDuration(s.Value)
		}
		return wait.Sleep(ctx, d)
	default:
		return s.validate()
	}
	return nil
}
