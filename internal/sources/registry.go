// Package sources loads the YAML source registry.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

const (
	defaultGeography = "global"
	defaultCurrency  = "USD"
	defaultCategory  = "general"
	maxPoliteness    = time.Minute
)

// ErrUnknownSource is returned when an ID is not in the registry.
var ErrUnknownSource = errors.New("sources: unknown source")

type registryFile struct {
	Sources []entry `yaml:"sources"`
}

type entry struct {
	ID              string        `yaml:"id"`
	Name            string        `yaml:"name"`
	BaseURL         string        `yaml:"base_url"`
	Category        string        `yaml:"category"`
	Geography       string        `yaml:"geography"`
	Method          string        `yaml:"method"`
	Currency        string        `yaml:"currency"`
	Publisher       string        `yaml:"publisher"`
	PolitenessDelay time.Duration `yaml:"politeness_delay"`
	Enabled         *bool         `yaml:"enabled"`
}

// Registry is an immutable, ID-ordered set of source descriptors.
type Registry struct {
	sources []evidence.SourceDescriptor
	byID    map[string]int
}

// Load reads and validates the registry at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source registry: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("source registry %s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes a registry document.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	descs := make([]evidence.SourceDescriptor, 0, len(file.Sources))
	for i, e := range file.Sources {
		d, err := e.descriptor()
		if err != nil {
			return nil, fmt.Errorf("source at index %d: %w", i, err)
		}
		descs = append(descs, d)
	}
	return New(descs)
}

// New builds a registry from descriptors, rejecting duplicate IDs.
func New(descs []evidence.SourceDescriptor) (*Registry, error) {
	reg := &Registry{
		sources: append([]evidence.SourceDescriptor(nil), descs...),
		byID:    make(map[string]int, len(descs)),
	}
	sort.SliceStable(reg.sources, func(i, j int) bool { return reg.sources[i].ID < reg.sources[j].ID })
	for i, d := range reg.sources {
		if _, dup := reg.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %q", d.ID)
		}
		reg.byID[d.ID] = i
	}
	return reg, nil
}

func (e entry) descriptor() (evidence.SourceDescriptor, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return evidence.SourceDescriptor{}, errors.New("id is required")
	}
	u, err := url.Parse(strings.TrimSpace(e.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return evidence.SourceDescriptor{}, fmt.Errorf("%s: base_url must be an absolute http(s) url", id)
	}
	method := evidence.ScrapeMethod(strings.ToLower(strings.TrimSpace(e.Method)))
	if method == "" {
		method = evidence.MethodHeuristic
	}
	if !method.Valid() {
		return evidence.SourceDescriptor{}, fmt.Errorf("%s: unknown method %q", id, e.Method)
	}
	if e.PolitenessDelay < 0 || e.PolitenessDelay > maxPoliteness {
		return evidence.SourceDescriptor{}, fmt.Errorf("%s: politeness_delay must be between 0 and %s", id, maxPoliteness)
	}
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return evidence.SourceDescriptor{
		ID:              id,
		Name:            orDefault(e.Name, id),
		BaseURL:         u.String(),
		Category:        strings.ToLower(orDefault(e.Category, defaultCategory)),
		Geography:       orDefault(e.Geography, defaultGeography),
		Method:          method,
		Currency:        strings.ToUpper(orDefault(e.Currency, defaultCurrency)),
		Publisher:       orDefault(e.Publisher, e.Name),
		PolitenessDelay: e.PolitenessDelay,
		Enabled:         enabled,
	}, nil
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return strings.TrimSpace(def)
}

// All returns every source, ordered by ID.
func (r *Registry) All() []evidence.SourceDescriptor {
	return append([]evidence.SourceDescriptor(nil), r.sources...)
}

// Enabled returns the enabled sources, optionally narrowed to a category.
func (r *Registry) Enabled(category string) []evidence.SourceDescriptor {
	var out []evidence.SourceDescriptor
	for _, d := range r.sources {
		if !d.Enabled {
			continue
		}
		if category != "" && !strings.EqualFold(d.Category, category) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Get returns the source with the given ID.
func (r *Registry) Get(id string) (evidence.SourceDescriptor, error) {
	i, ok := r.byID[id]
	if !ok {
		return evidence.SourceDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return r.sources[i], nil
}

// Select returns the named sources, or all enabled ones when ids is empty.
func (r *Registry) Select(ids []string) ([]evidence.SourceDescriptor, error) {
	if len(ids) == 0 {
		return r.Enabled(""), nil
	}
	out := make([]evidence.SourceDescriptor, 0, len(ids))
	for _, id := range ids {
		d, err := r.Get(strings.TrimSpace(id))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Len reports the number of sources.
func (r *Registry) Len() int {
	return len(r.sources)
}
