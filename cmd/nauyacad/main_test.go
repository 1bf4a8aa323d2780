package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanbato/nauyaca/internal/config"
)

func TestToSetReturnsNilForEmpty(t *testing.T) {
	assert.Nil(t, toSet(nil))
	assert.Nil(t, toSet([]string{}))
}

func TestToSetBuildsMembership(t *testing.T) {
	set := toSet([]string{"a", "b"})
	_, hasA := set["a"]
	_, hasC := set["c"]
	assert.True(t, hasA)
	assert.False(t, hasC)
}

func TestBuildMiddlewareEmptyWhenNothingEnabled(t *testing.T) {
	cfg := &config.Config{}
	chain, err := buildMiddleware(cfg)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestBuildMiddlewareWiresEachEnabledStage(t *testing.T) {
	cfg := &config.Config{
		AccessControl: config.AccessControlConfig{
			Enabled:      true,
			AllowList:    []string{"127.0.0.1/32"},
			DefaultAllow: false,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:    true,
			Capacity:   10,
			RefillRate: 1,
			RetryAfter: 5,
		},
		CertificateAuth: config.CertificateAuthConfig{
			Paths: []config.PathRuleConfig{
				{Prefix: "/private", RequireCert: true},
			},
		},
	}
	chain, err := buildMiddleware(cfg)
	require.NoError(t, err)
	assert.Len(t, chain, 3)
}

func TestBuildMiddlewareRejectsInvalidCIDR(t *testing.T) {
	cfg := &config.Config{
		AccessControl: config.AccessControlConfig{
			Enabled:   true,
			AllowList: []string{"not-a-cidr"},
		},
	}
	_, err := buildMiddleware(cfg)
	assert.Error(t, err)
}
