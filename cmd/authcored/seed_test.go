package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeedDefaultsRoleID(t *testing.T) {
	seed, err := parseSeed([]byte(testSeed))
	require.NoError(t, err)
	require.Len(t, seed.Roles, 3)
	assert.Equal(t, "admin", seed.Roles[0].ID)
	assert.Len(t, seed.Permissions, 4)
}

func TestParseSeedRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unnamed role", "roles:\n  - permissions: [a:b]\n"},
		{"user without password", "users:\n  - email: a@example.com\n"},
		{"unknown role", "users:\n  - email: a@example.com\n    password: x\n    roles: [ghost]\n"},
		{"not yaml", "roles: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSeed([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
