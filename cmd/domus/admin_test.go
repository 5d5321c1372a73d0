package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugPattern(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"acme", "acme-homes", "a1"} {
		assert.True(t, slugPattern.MatchString(ok), ok)
	}
	for _, bad := range []string{"", "-acme", "Acme", "acme_homes", "acme homes"} {
		assert.False(t, slugPattern.MatchString(bad), bad)
	}
}

func TestUserGrantCmd_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cmd     UserGrantCmd
		wantErr bool
	}{
		{"roles and grants", UserGrantCmd{Roles: []string{"member", "auditor"}, Permissions: []string{"audit:read"}}, false},
		{"clearing everything", UserGrantCmd{}, false},
		{"unknown role", UserGrantCmd{Roles: []string{"owner"}}, true},
		{"malformed permission", UserGrantCmd{Permissions: []string{"audit"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cmd.validate()
			if tt.wantErr {
				require.ErrorIs(t, err, errInvalidArgument)
				return
			}
			require.NoError(t, err)
		})
	}
}
