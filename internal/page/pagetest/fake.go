// Package pagetest provides a scriptable in-memory page.Page for tests of the
// export protocol.
package pagetest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgnsrekt/portal_export/internal/page"
)

// Element is the observable state of everything matching one selector.
type Element struct {
	Count   int
	Visible bool
	Value   string
	Texts   []string
}

// DownloadPlan describes the download started by the next trigger that
// fires while a listener is armed.
type DownloadPlan struct {
	SuggestedFilename string
	Content           []byte
	Err               error
}

// Fake records every interaction in order. Hooks run without the internal
// lock held and may call back into the Fake; read hooks run with the lock
// held and must only mutate the element they receive.
type Fake struct {
	mu         sync.Mutex
	elements   map[string]*Element
	readHooks  map[string]func(*Element)
	clickHooks map[string]func(f *Fake) error
	navHook    func(f *Fake, url string) error
	title      string
	url        string
	events     []string
	downloads  []DownloadPlan
	armed      *fakeDownload
	seq        int
}

var _ page.Page = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		elements:   make(map[string]*Element),
		readHooks:  make(map[string]func(*Element)),
		clickHooks: make(map[string]func(f *Fake) error),
	}
}

// Set replaces the state of selector. A visible element with no count is
// counted as one match.
func (f *Fake) Set(selector string, e Element) {
	if e.Visible && e.Count == 0 {
		e.Count = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements[selector] = &e
}

// Update mutates the state of selector, creating it if needed.
func (f *Fake) Update(selector string, fn func(*Element)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.elements[selector]
	if e == nil {
		e = &Element{}
		f.elements[selector] = e
	}
	fn(e)
}

// OnRead installs a hook invoked before every read of selector.
func (f *Fake) OnRead(selector string, fn func(*Element)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readHooks[selector] = fn
}

// OnClick installs a hook invoked after a successful click on selector.
func (f *Fake) OnClick(selector string, fn func(f *Fake) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clickHooks[selector] = fn
}

// OnNavigate installs a hook invoked on every navigation.
func (f *Fake) OnNavigate(fn func(f *Fake, url string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navHook = fn
}

func (f *Fake) SetTitle(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title = title
}

// QueueDownload schedules a download for the next trigger fired while armed.
func (f *Fake) QueueDownload(plan DownloadPlan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, plan)
}

// FireDownload starts the next queued download if a listener is armed. It
// stands in for an ActionTarget that causes a download.
func (f *Fake) FireDownload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "fire")
	f.startDownloadLocked()
}

// Events returns a copy of the interaction log, e.g. "arm", "click:#x".
func (f *Fake) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// Clicks counts clicks on selector.
func (f *Fake) Clicks(selector string) int {
	want := "click:" + selector
	n := 0
	for _, e := range f.Events() {
		if e == want {
			n++
		}
	}
	return n
}

func (f *Fake) read(selector string) (*Element, bool) {
	if hook := f.readHooks[selector]; hook != nil {
		e := f.elements[selector]
		if e == nil {
			e = &Element{}
			f.elements[selector] = e
		}
		hook(e)
	}
	e, ok := f.elements[selector]
	return e, ok
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	f.events = append(f.events, "navigate:"+url)
	f.url = url
	hook := f.navHook
	f.mu.Unlock()
	if hook != nil {
		return hook(f, url)
	}
	return ctx.Err()
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	e, ok := f.read(selector)
	if !ok || !e.Visible {
		f.mu.Unlock()
		return fmt.Errorf("no visible element matches %q", selector)
	}
	f.events = append(f.events, "click:"+selector)
	hook := f.clickHooks[selector]
	f.startDownloadLocked()
	f.mu.Unlock()

	if hook != nil {
		return hook(f)
	}
	return nil
}

func (f *Fake) ScrollIntoView(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.read(selector); !ok {
		return fmt.Errorf("no element matches %q", selector)
	}
	f.events = append(f.events, "scroll:"+selector)
	return ctx.Err()
}

func (f *Fake) Fill(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.read(selector)
	if !ok || !e.Visible {
		return fmt.Errorf("no visible element matches %q", selector)
	}
	f.events = append(f.events, "fill:"+selector)
	e.Value = text
	return ctx.Err()
}

func (f *Fake) Visible(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.read(selector)
	return ok && e.Visible, ctx.Err()
}

func (f *Fake) Count(ctx context.Context, selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.read(selector)
	if !ok {
		return 0, ctx.Err()
	}
	return e.Count, ctx.Err()
}

func (f *Fake) Value(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.read(selector)
	if !ok {
		return "", fmt.Errorf("no element matches %q", selector)
	}
	return e.Value, ctx.Err()
}

func (f *Fake) Texts(ctx context.Context, selector string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.read(selector)
	if !ok {
		return nil, ctx.Err()
	}
	return append([]string(nil), e.Texts...), ctx.Err()
}

func (f *Fake) Title(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, ctx.Err()
}

func (f *Fake) URL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, ctx.Err()
}

func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), ctx.Err()
}

func (f *Fake) ArmDownload(ctx context.Context, dir string) (page.Download, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "arm")
	d := &fakeDownload{
		fake:      f,
		dir:       dir,
		started:   make(chan struct{}),
		completed: make(chan struct{}),
	}
	f.armed = d
	return d, nil
}

func (f *Fake) startDownloadLocked() {
	d := f.armed
	if d == nil || d.begun || len(f.downloads) == 0 {
		return
	}
	plan := f.downloads[0]
	f.downloads = f.downloads[1:]
	f.seq++

	d.begun = true
	d.suggested = plan.SuggestedFilename
	close(d.started)

	if plan.Err != nil {
		d.err = plan.Err
	} else {
		d.path = filepath.Join(d.dir, fmt.Sprintf("guid-%d", f.seq))
		if err := os.WriteFile(d.path, plan.Content, 0o644); err != nil {
			d.err = err
		}
	}
	close(d.completed)
}

type fakeDownload struct {
	fake      *Fake
	dir       string
	begun     bool
	suggested string
	path      string
	err       error
	started   chan struct{}
	completed chan struct{}
}

func (d *fakeDownload) Started(ctx context.Context) (string, error) {
	select {
	case <-d.started:
		return d.suggested, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *fakeDownload) Completed(ctx context.Context) (string, error) {
	select {
	case <-d.completed:
		if d.err != nil {
			return "", d.err
		}
		return d.path, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *fakeDownload) Close() {
	d.fake.mu.Lock()
	defer d.fake.mu.Unlock()
	if d.fake.armed == d {
		d.fake.armed = nil
	}
	d.fake.events = append(d.fake.events, "disarm")
}

// ErrCanceled mimics a browser-reported cancelled download.
var ErrCanceled = errors.New("download canceled")
