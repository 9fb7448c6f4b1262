package organization

import (
	"context"
	"fmt"
	"strings"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/repository"
	"github.com/umbrellafw/umbrella/pkg/crypto"
)

// SanitizeKeyName maps every character outside [A-Za-z0-9_-] to '_'.
func SanitizeKeyName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, strings.TrimSpace(name))
}

func keyName(name string) (string, error) {
	sanitized := SanitizeKeyName(name)
	if sanitized == "" {
		return "", fmt.Errorf("%w: api key name is required", ErrInvalidArgument)
	}
	return sanitized, nil
}

// CreateAPIKeyForAdmin issues an enabled admin key under name, replacing any
// key with the same sanitized name.
func (s Service) CreateAPIKeyForAdmin(ctx context.Context, org, name string) (*domain.Organization, error) {
	return s.createAPIKey(ctx, org, name, true, nil)
}

// CreateAPIKeyForIngester issues an enabled ingest key limited to
// allowedEventTypes. An empty list allows every event type.
func (s Service) CreateAPIKeyForIngester(ctx context.Context, org, name string, allowedEventTypes []string) (*domain.Organization, error) {
	return s.createAPIKey(ctx, org, name, false, allowedEventTypes)
}

func (s Service) createAPIKey(ctx context.Context, org, name string, admin bool, allowedEventTypes []string) (*domain.Organization, error) {
	sanitized, err := keyName(name)
	if err != nil {
		return nil, err
	}
	value, err := crypto.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	key := domain.APIKey{
		Value:             value,
		Enabled:           true,
		IsAdmin:           admin,
		AllowedEventTypes: normalizeSet(allowedEventTypes),
	}
	updated, err := s.update(ctx, org, domain.OrganizationUpdate{PutAPIKeys: map[string]domain.APIKey{sanitized: key}})
	if err != nil {
		return nil, err
	}
	s.logger.Info("api key created", "org", org, "key", sanitized, "admin", admin)
	return updated, nil
}

// RemoveAPIKey deletes the named key.
func (s Service) RemoveAPIKey(ctx context.Context, org, name string) (*domain.Organization, error) {
	sanitized, _, err := s.existingKey(ctx, org, name)
	if err != nil {
		return nil, err
	}
	updated, err := s.update(ctx, org, domain.OrganizationUpdate{RemoveAPIKeys: []string{sanitized}})
	if err != nil {
		return nil, err
	}
	s.logger.Info("api key removed", "org", org, "key", sanitized)
	return updated, nil
}

// SetAPIKeyEnabled enables or disables the named key.
func (s Service) SetAPIKeyEnabled(ctx context.Context, org, name string, enabled bool) (*domain.Organization, error) {
	sanitized, key, err := s.existingKey(ctx, org, name)
	if err != nil {
		return nil, err
	}
	key.Enabled = enabled
	return s.update(ctx, org, domain.OrganizationUpdate{PutAPIKeys: map[string]domain.APIKey{sanitized: key}})
}

// SetAPIKeyAllowedEventTypes replaces the event types the named key may emit.
func (s Service) SetAPIKeyAllowedEventTypes(ctx context.Context, org, name string, allowedEventTypes []string) (*domain.Organization, error) {
	sanitized, key, err := s.existingKey(ctx, org, name)
	if err != nil {
		return nil, err
	}
	key.AllowedEventTypes = normalizeSet(allowedEventTypes)
	return s.update(ctx, org, domain.OrganizationUpdate{PutAPIKeys: map[string]domain.APIKey{sanitized: key}})
}

// existingKey reads the key straight from the store. The follow-up write is
// not conditioned on it, so concurrent edits of one key can be lost.
func (s Service) existingKey(ctx context.Context, org, name string) (string, domain.APIKey, error) {
	sanitized, err := keyName(name)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	current, err := s.Get(ctx, org, false)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	key, ok := current.APIKeysByName[sanitized]
	if !ok {
		return "", domain.APIKey{}, fmt.Errorf("api key %q: %w", sanitized, repository.ErrNotFound)
	}
	return sanitized, key, nil
}
