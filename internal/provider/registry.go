// Package provider maintains the process-wide registry of LLM providers,
// their model collections and the uniform call entry point.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/teamgate-io/teamgate/internal/forms"
	"github.com/teamgate-io/teamgate/internal/schema"
)

var (
	// ErrUnknownProvider indicates the provider id is not registered.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnknownModel indicates the model id is not part of the collection.
	ErrUnknownModel = errors.New("unknown model")

	// ErrUnsupportedModelType indicates the provider does not declare the
	// requested model type.
	ErrUnsupportedModelType = errors.New("unsupported model type")

	// ErrDuplicateProvider indicates an attempt to register an id twice.
	ErrDuplicateProvider = errors.New("provider already registered")

	// ErrMissingCredential and ErrInvalidCredential surface credential form
	// failures without ever carrying plaintext values.
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// CredentialHook is the provider-specific credential check invoked after the
// credential form validates, typically a lightweight authenticated call.
type CredentialHook func(ctx context.Context, credentials map[string]string) error

// Collection is the capability set shared by every model collection.
type Collection interface {
	Models() ([]schema.ModelDescriptor, error)
	Model(id string) (*schema.ModelDescriptor, error)
	Price(modelID string, direction PriceDirection, tokens int) (PriceInfo, error)
}

// Registry is the insertion-ordered set of registered providers. It is built
// once at startup and treated as immutable afterwards; lookups are safe for
// concurrent use.
type Registry struct {
	loader *schema.Loader

	mu    sync.RWMutex
	order []string
	byID  map[string]*Provider
}

// NewRegistry constructs an empty registry over a schema loader.
func NewRegistry(loader *schema.Loader) *Registry {
	return &Registry{
		loader: loader,
		byID:   make(map[string]*Provider),
	}
}

// RegisterProvider asserts the descriptor file exists, instantiates the
// handle and inserts it, preserving registration order.
func (r *Registry) RegisterProvider(id string, hook CredentialHook) (*Provider, error) {
	if !r.loader.ProviderExists(id) {
		return nil, fmt.Errorf("%w: no descriptor at %s", schema.ErrConfigMissing, r.loader.ProviderPath(id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
	}

	p := &Provider{
		id:          id,
		loader:      r.loader,
		hook:        hook,
		collections: make(map[schema.ModelType]Collection),
	}
	r.byID[id] = p
	r.order = append(r.order, id)
	return p, nil
}

// RegisterModelCollection attaches a collection to an already registered
// provider under (provider id, model type). The type must be among the
// provider's supported model types.
func (r *Registry) RegisterModelCollection(providerID string, mt schema.ModelType, c Collection) error {
	p, err := r.Provider(providerID)
	if err != nil {
		return err
	}

	desc, err := p.Schema()
	if err != nil {
		return err
	}
	if !desc.Supports(mt) {
		return fmt.Errorf("%w: provider %s does not support %s", ErrUnsupportedModelType, providerID, mt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := p.collections[mt]; exists {
		return fmt.Errorf("collection %s/%s already registered", providerID, mt)
	}
	p.collections[mt] = c
	return nil
}

// Provider returns the handle for id.
func (r *Registry) Provider(id string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// Schemas returns every registered provider descriptor in registration
// order, with models populated per supported type.
func (r *Registry) Schemas() ([]schema.ProviderDescriptor, error) {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	schemas := make([]schema.ProviderDescriptor, 0, len(order))
	for _, id := range order {
		p, err := r.Provider(id)
		if err != nil {
			return nil, err
		}
		desc, err := p.Schema()
		if err != nil {
			return nil, err
		}

		populated := *desc
		populated.Models = make(map[schema.ModelType][]schema.ModelDescriptor, len(desc.SupportedModelTypes))
		for _, mt := range desc.SupportedModelTypes {
			models, err := p.Models(mt)
			if err != nil {
				return nil, err
			}
			populated.Models[mt] = models
		}
		schemas = append(schemas, populated)
	}
	return schemas, nil
}

// ValidateCredentials filters credentials through the provider's credential
// form and hook.
func (r *Registry) ValidateCredentials(ctx context.Context, id string, credentials map[string]string) (map[string]string, error) {
	p, err := r.Provider(id)
	if err != nil {
		return nil, err
	}
	return p.ValidateCredentials(ctx, credentials)
}

// Provider is the registered handle for one provider: cached descriptor,
// attached collections, credential hook.
type Provider struct {
	id     string
	loader *schema.Loader
	hook   CredentialHook

	once sync.Once
	desc *schema.ProviderDescriptor
	err  error

	collections map[schema.ModelType]Collection
}

// ID returns the provider id.
func (p *Provider) ID() string {
	return p.id
}

// Schema returns the provider descriptor, loaded once and cached.
func (p *Provider) Schema() (*schema.ProviderDescriptor, error) {
	p.once.Do(func() {
		p.desc, p.err = p.loader.LoadProvider(p.id)
	})
	return p.desc, p.err
}

// Models returns the descriptors for a model type, or an empty list when the
// type is not supported.
func (p *Provider) Models(mt schema.ModelType) ([]schema.ModelDescriptor, error) {
	desc, err := p.Schema()
	if err != nil {
		return nil, err
	}
	if !desc.Supports(mt) {
		return nil, nil
	}
	return p.loader.LoadModels(p.id, mt)
}

// Collection returns the attached collection for a model type.
func (p *Provider) Collection(mt schema.ModelType) (Collection, error) {
	c, ok := p.collections[mt]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedModelType, p.id, mt)
	}
	return c, nil
}

// LLMCollection returns the attached llm collection.
func (p *Provider) LLMCollection() (*LLMCollection, error) {
	c, err := p.Collection(schema.ModelTypeLLM)
	if err != nil {
		return nil, err
	}
	llm, ok := c.(*LLMCollection)
	if !ok {
		return nil, fmt.Errorf("%w: %s/llm is not an llm collection", ErrUnsupportedModelType, p.id)
	}
	return llm, nil
}

// ValidateCredentials runs the credential form over the supplied values and
// then the provider hook. It returns the filtered credential map; secrets are
// never echoed in errors.
func (p *Provider) ValidateCredentials(ctx context.Context, credentials map[string]string) (map[string]string, error) {
	desc, err := p.Schema()
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(credentials))
	for k, v := range credentials {
		values[k] = v
	}

	resolved, err := forms.Resolve(desc.CredentialForm, values)
	if err != nil {
		var fe *forms.FieldError
		if errors.As(err, &fe) {
			if errors.Is(err, forms.ErrMissing) {
				return nil, fmt.Errorf("%w: %s", ErrMissingCredential, fe.Field)
			}
			return nil, fmt.Errorf("%w: %s: %s", ErrInvalidCredential, fe.Field, fe.Reason)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	filtered := make(map[string]string, len(resolved))
	for k, v := range resolved {
		if s, ok := v.(string); ok {
			filtered[k] = s
		} else {
			filtered[k] = fmt.Sprint(v)
		}
	}

	if p.hook != nil {
		if err := p.hook(ctx, filtered); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
	}
	return filtered, nil
}
