package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigMissing indicates a descriptor or sidecar file is absent.
	ErrConfigMissing = errors.New("model config missing")

	// ErrConfigInvalid indicates a descriptor failed to parse or validate.
	ErrConfigInvalid = errors.New("model config invalid")
)

const (
	listingFile  = "_listing.yaml"
	defaultsFile = "_defaults.yaml"
	yamlSuffix   = ".yaml"
)

// Loader reads provider and model descriptors from the layered configuration
// tree rooted at MODEL_CONFIG_ROOT:
//
//	<root>/<provider>/<provider>.yaml
//	<root>/<provider>/<model_type>/{_listing.yaml,_defaults.yaml,<model>.yaml}
//
// Results are cached per provider and per (provider, model type) on first
// use; the cache is write-once and safe for concurrent readers.
type Loader struct {
	root string

	mu        sync.RWMutex
	providers map[string]*ProviderDescriptor
	models    map[collectionKey][]ModelDescriptor
	defaults  map[collectionKey]map[string]FormField
}

type collectionKey struct {
	provider  string
	modelType ModelType
}

// NewLoader constructs a loader over the given configuration root.
func NewLoader(root string) *Loader {
	return &Loader{
		root:      root,
		providers: make(map[string]*ProviderDescriptor),
		models:    make(map[collectionKey][]ModelDescriptor),
		defaults:  make(map[collectionKey]map[string]FormField),
	}
}

// Root returns the configuration root directory.
func (l *Loader) Root() string {
	return l.root
}

// ProviderPath returns the expected descriptor path for a provider id.
func (l *Loader) ProviderPath(id string) string {
	return filepath.Join(l.root, id, id+yamlSuffix)
}

// ProviderExists reports whether the descriptor file for id is present.
func (l *Loader) ProviderExists(id string) bool {
	_, err := os.Stat(l.ProviderPath(id))
	return err == nil
}

// Providers discovers every provider directory under the root that carries a
// descriptor file, in lexical order.
func (l *Loader) Providers() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("%w: read config root %q: %v", ErrConfigMissing, l.root, err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if l.ProviderExists(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadProvider reads, validates and caches the descriptor for a provider.
func (l *Loader) LoadProvider(id string) (*ProviderDescriptor, error) {
	l.mu.RLock()
	if d, ok := l.providers[id]; ok {
		l.mu.RUnlock()
		return d, nil
	}
	l.mu.RUnlock()

	path := l.ProviderPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %q descriptor at %q", ErrConfigMissing, id, path)
	}

	var desc ProviderDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: provider %q: %v", ErrConfigInvalid, id, err)
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if err := l.checkIcon(id, desc.IconSmall); err != nil {
		return nil, err
	}
	if err := l.checkIcon(id, desc.IconLarge); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.providers[id]; ok {
		return cached, nil
	}
	l.providers[id] = &desc
	return &desc, nil
}

func (l *Loader) checkIcon(providerID, icon string) error {
	if icon == "" {
		return nil
	}
	path := filepath.Join(l.root, providerID, icon)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: provider %q icon %q is not readable", ErrConfigInvalid, providerID, icon)
	}
	return nil
}

// LoadDefaults reads the parameter template table for a collection. A missing
// sidecar yields an empty table, not an error.
func (l *Loader) LoadDefaults(providerID string, mt ModelType) (map[string]FormField, error) {
	key := collectionKey{providerID, mt}
	l.mu.RLock()
	if d, ok := l.defaults[key]; ok {
		l.mu.RUnlock()
		return d, nil
	}
	l.mu.RUnlock()

	table := make(map[string]FormField)
	path := filepath.Join(l.root, providerID, string(mt), defaultsFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("%w: defaults for %s/%s: %v", ErrConfigInvalid, providerID, mt, err)
		}
		for name, field := range table {
			if field.Name == "" {
				field.Name = name
				table[name] = field
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: defaults for %s/%s: %v", ErrConfigMissing, providerID, mt, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.defaults[key]; ok {
		return cached, nil
	}
	l.defaults[key] = table
	return table, nil
}

// modelDoc mirrors ModelDescriptor but keeps parameter configs as raw YAML
// nodes so defaults-table inheritance can merge at the document level.
type modelDoc struct {
	ID               string           `yaml:"id"`
	Label            yaml.Node        `yaml:"label"`
	Type             ModelType        `yaml:"type"`
	Features         []string         `yaml:"features"`
	Properties       ModelProperties  `yaml:"properties"`
	Deprecated       bool             `yaml:"deprecated"`
	ParameterConfigs []yaml.Node      `yaml:"parameter_configs"`
	Pricing          *Pricing         `yaml:"pricing"`
}

// LoadModels reads every non-underscore YAML in the type directory, applies
// defaults inheritance, orders by the listing sidecar and caches the result.
func (l *Loader) LoadModels(providerID string, mt ModelType) ([]ModelDescriptor, error) {
	key := collectionKey{providerID, mt}
	l.mu.RLock()
	if m, ok := l.models[key]; ok {
		l.mu.RUnlock()
		return m, nil
	}
	l.mu.RUnlock()

	dir := filepath.Join(l.root, providerID, string(mt))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: model directory %q", ErrConfigMissing, dir)
	}

	defaults, err := l.LoadDefaults(providerID, mt)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]ModelDescriptor)
	var fileOrder []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || !strings.HasSuffix(name, yamlSuffix) {
			continue
		}
		desc, err := l.loadModelFile(filepath.Join(dir, name), mt, defaults)
		if err != nil {
			return nil, err
		}
		if _, dup := byID[desc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate model id %q in %s/%s", ErrConfigInvalid, desc.ID, providerID, mt)
		}
		byID[desc.ID] = *desc
		fileOrder = append(fileOrder, desc.ID)
	}

	listing, err := l.loadListing(dir)
	if err != nil {
		return nil, err
	}

	ordered := orderModels(byID, listing, fileOrder)

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.models[key]; ok {
		return cached, nil
	}
	l.models[key] = ordered
	return ordered, nil
}

func (l *Loader) loadModelFile(path string, mt ModelType, defaults map[string]FormField) (*ModelDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: model descriptor %q", ErrConfigMissing, path)
	}

	var doc modelDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: model descriptor %q: %v", ErrConfigInvalid, path, err)
	}

	desc := ModelDescriptor{
		ID:         doc.ID,
		Type:       doc.Type,
		Features:   doc.Features,
		Properties: doc.Properties,
		Deprecated: doc.Deprecated,
		Pricing:    doc.Pricing,
	}
	if !doc.Label.IsZero() {
		if err := doc.Label.Decode(&desc.Label); err != nil {
			return nil, fmt.Errorf("%w: model descriptor %q label: %v", ErrConfigInvalid, path, err)
		}
	}

	for i := range doc.ParameterConfigs {
		field, err := resolveParameterConfig(&doc.ParameterConfigs[i], defaults)
		if err != nil {
			return nil, fmt.Errorf("%w: model descriptor %q: %v", ErrConfigInvalid, path, err)
		}
		desc.ParameterConfigs = append(desc.ParameterConfigs, field)
	}

	if err := desc.Validate(mt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return &desc, nil
}

// resolveParameterConfig merges defaults[use_template] under the descriptor
// entry, with the descriptor overriding key by key. Entries whose
// use_template names no reserved default pass through unchanged; their
// reference is resolved against sibling parameter values at request time.
func resolveParameterConfig(node *yaml.Node, defaults map[string]FormField) (FormField, error) {
	var field FormField
	if err := node.Decode(&field); err != nil {
		return FormField{}, err
	}

	def, ok := defaults[field.UseTemplate]
	if field.UseTemplate == "" || !ok {
		return field, nil
	}

	baseBytes, err := yaml.Marshal(def)
	if err != nil {
		return FormField{}, err
	}
	var base map[string]any
	if err := yaml.Unmarshal(baseBytes, &base); err != nil {
		return FormField{}, err
	}

	var override map[string]any
	if err := node.Decode(&override); err != nil {
		return FormField{}, err
	}
	for k, v := range override {
		base[k] = v
	}

	mergedBytes, err := yaml.Marshal(base)
	if err != nil {
		return FormField{}, err
	}
	var merged FormField
	if err := yaml.Unmarshal(mergedBytes, &merged); err != nil {
		return FormField{}, err
	}
	if merged.Name == "" {
		merged.Name = field.UseTemplate
	}
	return merged, nil
}

// loadListing reads the ordered model ids from the listing sidecar. A missing
// sidecar yields a nil listing.
func (l *Loader) loadListing(dir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, listingFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing in %q", ErrConfigMissing, dir)
	}
	var listing []string
	if err := yaml.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("%w: listing in %q: %v", ErrConfigInvalid, dir, err)
	}
	return listing, nil
}

// orderModels sorts descriptors by listing position; ids absent from the
// listing follow in filename order.
func orderModels(byID map[string]ModelDescriptor, listing, fileOrder []string) []ModelDescriptor {
	ordered := make([]ModelDescriptor, 0, len(byID))
	seen := make(map[string]struct{}, len(byID))
	for _, id := range listing {
		if m, ok := byID[id]; ok {
			ordered = append(ordered, m)
			seen[id] = struct{}{}
		}
	}
	for _, id := range fileOrder {
		if _, ok := seen[id]; !ok {
			ordered = append(ordered, byID[id])
		}
	}
	return ordered
}
