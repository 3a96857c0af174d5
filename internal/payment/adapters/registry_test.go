package adapters

import (
	"testing"

	"github.com/smallbiznis/modulebilling/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	registry := NewDefaultRegistry()

	assert.True(t, registry.ProviderExists("sandbox"))
	assert.True(t, registry.ProviderExists(" PayPlus "))
	assert.True(t, registry.ProviderExists("stripe"))
	assert.False(t, registry.ProviderExists("adyen"))

	gateway, err := registry.NewAdapter("sandbox", domain.AdapterConfig{})
	require.NoError(t, err)
	assert.NotNil(t, gateway)

	_, err = registry.NewAdapter("adyen", domain.AdapterConfig{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	_, err = registry.NewAdapter("stripe", domain.AdapterConfig{Config: map[string]string{}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
