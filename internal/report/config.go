// Package report composes PDF reports from monthly index records, analyzer
// output, optional legal restrictions and the LLM narrative.
package report

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/agrovista/satreport/internal/model"
)

// ErrInvalidConfig marks a configuration rejected by Validate. Callers
// match it with eris.Is and return the message synchronously.
var ErrInvalidConfig = eris.New("invalid report configuration")

// Detail levels.
const (
	DetailExecutive = "executive"
	DetailStandard  = "standard"
	DetailComplete  = "complete"
)

// Orientation values.
const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
)

// Section keys selectable in a configuration. Cover, parcel summary,
// configuration snapshot and the per-index blocks are always emitted; the
// keys below toggle the optional sections.
const (
	SectionNarrative       = "narrative"
	SectionImages          = "images"
	SectionComparison      = "comparison"
	SectionLegal           = "legal"
	SectionRecommendations = "recommendations"
	SectionAppendix        = "appendix"
)

var knownSections = map[string]bool{
	SectionNarrative:       true,
	SectionImages:          true,
	SectionComparison:      true,
	SectionLegal:           true,
	SectionRecommendations: true,
	SectionAppendix:        true,
}

// sectionOrder fixes the emission order of optional sections.
var sectionOrder = []string{
	SectionNarrative, SectionImages, SectionComparison,
	SectionLegal, SectionRecommendations, SectionAppendix,
}

// Format controls the page layout of the PDF.
type Format struct {
	Orientation string `json:"orientation"`
	PageSize    string `json:"page_size"`
}

// Config is a report configuration. Zero values are filled by Normalize;
// Validate enforces the invariants after normalization.
type Config struct {
	Template    string            `json:"template,omitempty"`
	DetailLevel string            `json:"detail_level"`
	Indices     []model.IndexName `json:"indices"`
	Sections    []string          `json:"sections"`
	Format      Format            `json:"format"`
}

// DefaultConfig is the standard_default template.
func DefaultConfig() Config {
	cfg, _ := TemplateConfig("standard_default")
	return cfg
}

// TemplateConfig returns the named template's configuration.
func TemplateConfig(name string) (Config, error) {
	switch name {
	case "executive_quick":
		return Config{
			Template:    name,
			DetailLevel: DetailExecutive,
			Indices:     []model.IndexName{model.IndexNDVI},
			Sections:    []string{SectionNarrative},
			Format:      Format{Orientation: OrientationPortrait, PageSize: "A4"},
		}, nil
	case "standard_default":
		return Config{
			Template:    name,
			DetailLevel: DetailStandard,
			Indices:     []model.IndexName{model.IndexNDVI, model.IndexNDMI},
			Sections:    []string{SectionNarrative, SectionImages, SectionRecommendations, SectionAppendix},
			Format:      Format{Orientation: OrientationPortrait, PageSize: "A4"},
		}, nil
	case "complete_deep":
		return Config{
			Template:    name,
			DetailLevel: DetailComplete,
			Indices:     []model.IndexName{model.IndexNDVI, model.IndexNDMI, model.IndexSAVI},
			Sections: []string{
				SectionNarrative, SectionImages, SectionComparison,
				SectionLegal, SectionRecommendations, SectionAppendix,
			},
			Format: Format{Orientation: OrientationPortrait, PageSize: "A4"},
		}, nil
	case "coffee_focused":
		return Config{
			Template:    name,
			DetailLevel: DetailComplete,
			Indices:     []model.IndexName{model.IndexNDVI, model.IndexNDMI, model.IndexSAVI},
			Sections: []string{
				SectionNarrative, SectionImages, SectionLegal,
				SectionRecommendations, SectionAppendix,
			},
			Format: Format{Orientation: OrientationLandscape, PageSize: "A4"},
		}, nil
	default:
		return Config{}, eris.Wrapf(ErrInvalidConfig, "unknown template %q", name)
	}
}

// Normalize fills defaults and canonicalizes indices and sections. It must
// run before Validate and before Snapshot.
func (c *Config) Normalize() {
	if c.DetailLevel == "" {
		c.DetailLevel = DetailStandard
	}
	if c.Format.Orientation == "" {
		c.Format.Orientation = OrientationPortrait
	}
	if c.Format.PageSize == "" {
		c.Format.PageSize = "A4"
	}

	// Uppercase and dedupe indices, preserving first-seen order.
	seen := map[model.IndexName]bool{}
	var indices []model.IndexName
	for _, idx := range c.Indices {
		up := model.IndexName(strings.ToUpper(strings.TrimSpace(string(idx))))
		if up == "" || seen[up] {
			continue
		}
		seen[up] = true
		indices = append(indices, up)
	}
	c.Indices = indices

	// Sections collapse to the fixed emission order.
	want := map[string]bool{}
	for _, s := range c.Sections {
		want[strings.ToLower(strings.TrimSpace(s))] = true
	}
	var sections []string
	for _, s := range sectionOrder {
		if want[s] {
			sections = append(sections, s)
			delete(want, s)
		}
	}
	// Unknown keys survive normalization so Validate can report them.
	for s := range want {
		if s != "" {
			sections = append(sections, s)
		}
	}
	c.Sections = sections
}

// Validate enforces the configuration invariants.
func (c *Config) Validate() error {
	switch c.DetailLevel {
	case DetailExecutive, DetailStandard, DetailComplete:
	default:
		return eris.Wrapf(ErrInvalidConfig, "detail_level %q", c.DetailLevel)
	}

	if len(c.Indices) == 0 {
		return eris.Wrap(ErrInvalidConfig, "indices must not be empty")
	}
	hasNDVI := false
	for _, idx := range c.Indices {
		switch idx {
		case model.IndexNDVI:
			hasNDVI = true
		case model.IndexNDMI, model.IndexNDRE, model.IndexSAVI, model.IndexMSAVI:
		default:
			return eris.Wrapf(ErrInvalidConfig, "unknown index %q", idx)
		}
	}
	if !hasNDVI {
		return eris.Wrap(ErrInvalidConfig, "indices must include NDVI")
	}

	for _, s := range c.Sections {
		if !knownSections[s] {
			return eris.Wrapf(ErrInvalidConfig, "unknown section %q", s)
		}
	}

	switch c.Format.Orientation {
	case OrientationPortrait, OrientationLandscape:
	default:
		return eris.Wrapf(ErrInvalidConfig, "orientation %q", c.Format.Orientation)
	}

	return nil
}

// HasSection reports whether an optional section is enabled.
func (c *Config) HasSection(key string) bool {
	for _, s := range c.Sections {
		if s == key {
			return true
		}
	}
	return false
}

// Snapshot returns the exact normalized configuration JSON persisted with
// the Report record.
func (c *Config) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "report: marshal config snapshot")
	}
	return raw, nil
}
