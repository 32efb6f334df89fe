package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Concept describes one entry of the measurement catalog: the canonical
// test code, its human-facing component alias, the reporting unit, and
// the validity window during which a measurement of this concept is
// treated as authoritative for inference.
type Concept struct {
	Code       string
	Component  string
	Display    string
	Unit       string
	BeforeGood time.Duration
	AfterGood  time.Duration
}

// ErrUnknownIdentifier is returned when neither the code catalog nor the
// alias catalog contains the requested identifier.
var ErrUnknownIdentifier = fmt.Errorf("unknown identifier")

type Catalog struct {
	byCode  map[string]Concept
	byAlias map[string]string // casefolded component -> code
}

func NewCatalog(concepts []Concept) (*Catalog, error) {
	if len(concepts) == 0 {
		return nil, fmt.Errorf("measurement catalog empty")
	}
	cat := &Catalog{
		byCode:  make(map[string]Concept, len(concepts)),
		byAlias: make(map[string]string, len(concepts)),
	}
	for _, c := range concepts {
		if c.Code == "" {
			return nil, fmt.Errorf("catalog concept %q has no code", c.Component)
		}
		if _, dup := cat.byCode[c.Code]; dup {
			return nil, fmt.Errorf("duplicate catalog code %s", c.Code)
		}
		cat.byCode[c.Code] = c
		if c.Component != "" {
			alias := strings.ToLower(c.Component)
			if existing, dup := cat.byAlias[alias]; dup && existing != c.Code {
				return nil, fmt.Errorf("component %q is ambiguous", c.Component)
			}
			cat.byAlias[alias] = c.Code
		}
	}
	return cat, nil
}

// Resolve maps an exact test code or a case-insensitive component alias
// to the canonical code. Unknown identifiers fail loudly.
func (c *Catalog) Resolve(codeOrAlias string) (string, error) {
	token := strings.TrimSpace(codeOrAlias)
	if token == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrUnknownIdentifier)
	}
	if _, ok := c.byCode[token]; ok {
		return token, nil
	}
	if code, ok := c.byAlias[strings.ToLower(token)]; ok {
		return code, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownIdentifier, token)
}

func (c *Catalog) Concept(code string) (Concept, bool) {
	concept, ok := c.byCode[code]
	return concept, ok
}

// Window returns the validity window for a code. Unknown codes fall back
// to a conservative default so inference degrades instead of panicking.
func (c *Catalog) Window(code string) (before, after time.Duration) {
	if concept, ok := c.byCode[code]; ok {
		return concept.BeforeGood, concept.AfterGood
	}
	return 4 * time.Hour, 8 * time.Hour
}

func (c *Catalog) Concepts() []Concept {
	out := make([]Concept, 0, len(c.byCode))
	for _, concept := range c.byCode {
		out = append(out, concept)
	}
	return out
}

type conceptYAML struct {
	Code       string `yaml:"code"`
	Component  string `yaml:"component"`
	Display    string `yaml:"display"`
	Unit       string `yaml:"unit"`
	BeforeGood string `yaml:"before_good"`
	AfterGood  string `yaml:"after_good"`
}

type catalogYAML struct {
	Concepts []conceptYAML `yaml:"concepts"`
}

func Load(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var raw catalogYAML
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	concepts := make([]Concept, 0, len(raw.Concepts))
	for _, rc := range raw.Concepts {
		before, err := time.ParseDuration(rc.BeforeGood)
		if err != nil {
			return nil, fmt.Errorf("concept %s: bad before_good: %w", rc.Code, err)
		}
		after, err := time.ParseDuration(rc.AfterGood)
		if err != nil {
			return nil, fmt.Errorf("concept %s: bad after_good: %w", rc.Code, err)
		}
		concepts = append(concepts, Concept{
			Code:       rc.Code,
			Component:  rc.Component,
			Display:    rc.Display,
			Unit:       rc.Unit,
			BeforeGood: before,
			AfterGood:  after,
		})
	}
	return NewCatalog(concepts)
}

// DefaultCatalog carries the concepts the bundled knowledge base refers
// to, with clinically realistic validity windows.
func DefaultCatalog() *Catalog {
	day := 24 * time.Hour
	cat, _ := NewCatalog([]Concept{
		{Code: "46098-0", Component: "Gender", Display: "Sex assigned at birth", BeforeGood: 100 * 365 * day, AfterGood: 100 * 365 * day},
		{Code: "718-7", Component: "Hemoglobin", Display: "Hemoglobin [Mass/volume] in Blood", Unit: "g/dL", BeforeGood: 7 * day, AfterGood: 7 * day},
		{Code: "6690-2", Component: "WBC", Display: "Leukocytes [#/volume] in Blood", Unit: "cells/uL", BeforeGood: 3 * day, AfterGood: 3 * day},
		{Code: "8310-5", Component: "Fever", Display: "Body temperature", Unit: "Cel", BeforeGood: 12 * time.Hour, AfterGood: 12 * time.Hour},
		{Code: "427359001", Component: "Chills", Display: "Chills observation", BeforeGood: 12 * time.Hour, AfterGood: 12 * time.Hour},
		{Code: "28214007", Component: "Skin-look", Display: "Skin appearance", BeforeGood: 2 * day, AfterGood: 2 * day},
		{Code: "419199007", Component: "Allergic-state", Display: "Allergic reaction", BeforeGood: 12 * time.Hour, AfterGood: 12 * time.Hour},
		{Code: "182836005", Component: "Therapy", Display: "Active therapy protocol", BeforeGood: 30 * day, AfterGood: 30 * day},
	})
	return cat
}
