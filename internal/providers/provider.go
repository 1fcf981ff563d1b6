// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
Package providers implements the REST clients for the supported wearable
and CGM providers.

Each provider decodes its responses into its own structured types first and
only then maps them into normalize.RawReading values. Provider quirks stay in
the provider's file and never reach the shared normalization code.

	dexcom    CGM glucose samples (egvs), pull and webhook
	oura      sleep, activity and heart rate, pull and webhook
	withings  body measurements (weight, blood pressure, SpO2), pull only
*/
package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/normalize"
)

// ErrUnsupported is returned for unknown providers and for operations a
// provider does not offer.
var ErrUnsupported = errors.New("unsupported provider")

// Batch is the result of one pull: the raw response for audit and the
// readings decoded from it.
type Batch struct {
	EventType string
	Raw       []byte
	Readings  []normalize.RawReading
}

// Delivery is a decoded webhook body.
type Delivery struct {
	DeliveryID     string
	ExternalUserID string
	EventType      string
	Readings       []normalize.RawReading
}

// Provider pulls a time window of data with a bearer token.
type Provider interface {
	Name() string
	Pull(ctx context.Context, token string, w models.Window) (*Batch, error)
}

// WebhookDecoder is implemented by providers that push data.
type WebhookDecoder interface {
	DecodeWebhook(body []byte) (*Delivery, error)
}

// Registry maps provider names to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// NewRegistryFromConfig builds every provider that has a configuration
// entry.
func NewRegistryFromConfig(cfgs map[string]config.ProviderConfig) *Registry {
	r := NewRegistry()
	for name, cfg := range cfgs {
		switch name {
		case DexcomName:
			r.Register(NewDexcom(NewClient(name, cfg)))
		case OuraName:
			r.Register(NewOura(NewClient(name, cfg)))
		case WithingsName:
			r.Register(NewWithings(NewClient(name, cfg)))
		}
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	return p, nil
}

// Decoder returns the webhook decoder for name.
func (r *Registry) Decoder(name string) (WebhookDecoder, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	d, ok := p.(WebhookDecoder)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not send webhooks", ErrUnsupported, name)
	}
	return d, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
