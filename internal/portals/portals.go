// Package portals describes the two quote portals: where they live, how to
// reach their report page, which date-range widget and table they use, and
// how their export control is found. Defaults can be overridden from YAML.
package portals

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/portal_export/internal/browser"
	"github.com/dgnsrekt/portal_export/internal/daterange"
	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/guard"
	"github.com/dgnsrekt/portal_export/internal/refresh"
)

const (
	Fast    = "fast"
	Classic = "classic"
)

// Definition is everything the pipeline needs to export one portal.
type Definition struct {
	Name  string `yaml:"-"`
	URL   string `yaml:"url"`
	Table string `yaml:"table"`

	Tab           browser.TabCriteria `yaml:"tab"`
	ReadySelector string              `yaml:"ready_selector"`
	Steps         []Step              `yaml:"steps"`

	// UsesRange enables range selection and refresh detection.
	UsesRange bool             `yaml:"uses_range"`
	TimeZone  string           `yaml:"time_zone"`
	Picker    daterange.Widget `yaml:"picker"`
	Refresh   refresh.Detector `yaml:"refresh"`
	Guard     guard.Config     `yaml:"guard"`

	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	RefreshTimeout    time.Duration `yaml:"refresh_timeout"`
	DownloadTimeout   time.Duration `yaml:"download_timeout"`
}

// Validate checks that the definition can be run.
func (d Definition) Validate() error {
	if d.URL == "" {
		return failure.Newf(failure.CodeValidation, "portal %s has no URL configured", d.Name)
	}
	if d.Table == "" {
		return failure.Newf(failure.CodeValidation, "portal %s has no destination table", d.Name)
	}
	if len(d.Guard.ExportChain) == 0 {
		return failure.Newf(failure.CodeValidation, "portal %s has no export selectors", d.Name)
	}
	for _, s := range d.Steps {
		if err := s.validate(); err != nil {
			return err
		}
	}
	return nil
}

// FastDefinition is the PrimeNG "Cotizador Vehicular" portal.
func FastDefinition(url string) Definition {
	picker := daterange.DefaultWidget()
	return Definition{
		Name:          Fast,
		URL:           url,
		Table:         "fast_cotizaciones",
		Tab:           browser.TabCriteria{TitleContains: "Cotizador Vehicular"},
		ReadySelector: `text="RECEPCIÓN DE CLIENTE"`,
		Steps: []Step{
			{Name: "open quote history", Action: ActionClick, Selector: "text=Ver Cotizaciones"},
			{Name: "wait quote history", Action: ActionWaitURL, Value: "historialcotizacion"},
		},
		UsesRange: true,
		TimeZone:  "America/Lima",
		Picker:    picker,
		Refresh:   refresh.DefaultDetector(),
		Guard: guard.Config{
			RangeInput:   picker.Input,
			RequireRange: true,
			ExportChain: []string{
				`xpath=//button[normalize-space(.)="Exportar"]`,
				`xpath=//button[contains(normalize-space(.), "Exportar")]`,
				`button:has(.pi-file-excel)`,
				`xpath=//*[self::button or self::a][contains(translate(normalize-space(.), "EXPORT", "export"), "export")]`,
			},
			Notice: `xpath=//*[contains(@class, "p-toast-message")][contains(translate(., "RANGO", "rango"), "rango")]`,
		},
		NavigationTimeout: 30 * time.Second,
		RefreshTimeout:    20 * time.Second,
		DownloadTimeout:   60 * time.Second,
	}
}

// ClassicDefinition is the "San Isidro" portal. It has no range widget.
// The re-login steps run only when CLASSIC_ACCOUNT and CLASSIC_PASSWORD
// are set.
func ClassicDefinition(url string) Definition {
	return Definition{
		Name:          Classic,
		URL:           url,
		Table:         "classic_cotizaciones",
		ReadySelector: `text="COTIZADOR VEHICULAR - SAN ISIDRO"`,
		Steps: []Step{
			{Name: "sign out", Action: ActionClick, Selector: "text=${CLASSIC_ACCOUNT}", WhenEnv: "CLASSIC_ACCOUNT", Optional: true},
			{Name: "sign in", Action: ActionClick, Selector: `xpath=//button[contains(normalize-space(.), "Ingresar")]`, WhenEnv: "CLASSIC_ACCOUNT", Optional: true},
			{Name: "pick account", Action: ActionClick, Selector: `[data-test-id="${CLASSIC_ACCOUNT}"]`, WhenEnv: "CLASSIC_ACCOUNT", Optional: true},
			{Name: "password", Action: ActionFill, Selector: "input#i0118", ValueEnv: "CLASSIC_PASSWORD", WhenEnv: "CLASSIC_PASSWORD", Optional: true},
			{Name: "confirm", Action: ActionClick, Selector: "input#idSIButton9", WhenEnv: "CLASSIC_PASSWORD", Optional: true},
			{Name: "open report", Action: ActionClick, Selector: `text="Reporte"`},
			{Name: "wait excel button", Action: ActionWaitVisible, Selector: `xpath=//button[contains(normalize-space(.), "Excel")]`},
		},
		Guard: guard.Config{
			ExportChain: []string{
				`xpath=//button[normalize-space(.)="Excel"]`,
				`xpath=//button[contains(normalize-space(.), "Excel")]`,
				`button:has(.fa-file-excel), button:has(.pi-file-excel)`,
				`xpath=//*[self::button or self::a][contains(translate(normalize-space(.), "EXPORT", "export"), "export")]`,
			},
		},
		NavigationTimeout: 30 * time.Second,
		DownloadTimeout:   60 * time.Second,
	}
}

// Set holds the configured portals by name.
type Set struct {
	defs map[string]Definition
}

// NewSet builds the default fast and classic definitions.
func NewSet(fastURL, classicURL string) *Set {
	return &Set{defs: map[string]Definition{
		Fast:    FastDefinition(fastURL),
		Classic: ClassicDefinition(classicURL),
	}}
}

// Get returns the named definition.
func (s *Set) Get(name string) (Definition, error) {
	d, ok := s.defs[name]
	if !ok {
		return Definition{}, failure.Newf(failure.CodeNotFound, "unknown portal %q (known: %v)", name, s.Names())
	}
	return d, nil
}

// Names returns the portal names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.defs))
	for n := range s.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type overrideFile struct {
	Portals map[string]yaml.Node `yaml:"portals"`
}

// ApplyYAML decodes per-portal overrides onto the current definitions.
// Fields absent from the document keep their values; lists are replaced.
// Unknown portal names add new definitions built from scratch.
func (s *Set) ApplyYAML(data []byte) error {
	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return failure.New(failure.CodeValidation, "parse portal overrides", err)
	}
	for name, node := range file.Portals {
		d := s.defs[name]
		if err := node.Decode(&d); err != nil {
			return failure.New(failure.CodeValidation, fmt.Sprintf("decode portal %q", name), err)
		}
		d.Name = name
		s.defs[name] = d
	}
	return nil
}

// LoadFile applies overrides from path. An empty path is a no-op.
func (s *Set) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return failure.New(failure.CodeValidation, "read portal overrides", err)
	}
	return s.ApplyYAML(data)
}
