// Package device defines the contract between feature controllers and the
// system that owns device state (a home automation hub, a state mirror in
// Redis, ...).
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ErrUnavailable is returned when an entity or one of its attributes is
// unknown to the transport. Callers treat it as transient.
var ErrUnavailable = errors.New("device unavailable")

// Transport reads device state and sends commands.
type Transport interface {
	// Attribute returns a single attribute of an entity.
	Attribute(ctx context.Context, entityID, name string) (any, error)

	// Attributes returns every attribute of an entity.
	Attributes(ctx context.Context, entityID string) (map[string]any, error)

	// CallService invokes service ("domain/service") on entityID.
	CallService(ctx context.Context, service, entityID string, data map[string]any) error

	Close() error
}

// SplitService splits "media_player/volume_set" into its domain and service.
func SplitService(service string) (domain, name string, err error) {
	domain, name, ok := strings.Cut(service, "/")
	if !ok || domain == "" || name == "" {
		return "", "", fmt.Errorf("invalid service %q (want domain/service)", service)
	}
	return domain, name, nil
}

// Unavailable wraps ErrUnavailable with the entity (and attribute, if any)
// that could not be resolved.
func Unavailable(entityID, attribute string) error {
	if attribute == "" {
		return fmt.Errorf("entity %s: %w", entityID, ErrUnavailable)
	}
	return fmt.Errorf("entity %s attribute %s: %w", entityID, attribute, ErrUnavailable)
}

// Decode copies a loosely typed attribute value (as it arrives from JSON)
// into out. Numbers are converted between kinds; strings holding numbers are
// accepted.
func Decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode attribute: %w", err)
	}
	return nil
}
