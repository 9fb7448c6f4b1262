package organization

import (
	"context"
	"errors"
	"strings"

	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/repository"
	"github.com/umbrellafw/umbrella/pkg/crypto"
)

const credentialPrefix = "apikey "

// ParseCredential strips an optional case-insensitive "apikey " prefix.
// It reports false for a blank credential.
func ParseCredential(credential string) (string, bool) {
	value := strings.TrimLeft(credential, " \t")
	if len(value) >= len(credentialPrefix) && strings.EqualFold(value[:len(credentialPrefix)], credentialPrefix) {
		value = value[len(credentialPrefix):]
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// GetIfAuthorizedForIngestPing returns the organization when credential is an
// enabled key of it.
func (s Service) GetIfAuthorizedForIngestPing(ctx context.Context, name, credential string) (*domain.Organization, error) {
	return s.authorize(ctx, name, credential, func(domain.APIKey) bool { return true })
}

// GetIfAuthorizedForIngestEvent additionally requires the key to allow eventType.
func (s Service) GetIfAuthorizedForIngestEvent(ctx context.Context, name, credential, eventType string) (*domain.Organization, error) {
	return s.authorize(ctx, name, credential, func(k domain.APIKey) bool { return k.AllowsEventType(eventType) })
}

// GetIfAuthorizedForAdmin requires an enabled admin key.
func (s Service) GetIfAuthorizedForAdmin(ctx context.Context, name, credential string) (*domain.Organization, error) {
	return s.authorize(ctx, name, credential, func(k domain.APIKey) bool { return k.IsAdmin })
}

// authorize never reveals which check failed. Store outages are returned
// as-is so they are not mistaken for bad credentials.
func (s Service) authorize(ctx context.Context, name, credential string, allowed func(domain.APIKey) bool) (*domain.Organization, error) {
	value, ok := ParseCredential(credential)
	if !ok {
		return nil, ErrUnauthorized
	}
	org, err := s.Get(ctx, name, true)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	granted := false
	for _, key := range org.APIKeysByName {
		if key.Enabled && crypto.Equal(value, key.Value) && allowed(key) {
			granted = true
		}
	}
	if !granted {
		return nil, ErrUnauthorized
	}
	return org, nil
}
