package firewall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

func TestLoggedIn(t *testing.T) {
	assert.ErrorIs(t, LoggedIn(context.Background(), "", nil), ErrNotLoggedIn)
	assert.NoError(t, LoggedIn(context.Background(), "u1", nil))
}

func TestCEL(t *testing.T) {
	owner, err := CEL(`userId != "" && params.owner == userId`)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		params  body.Params
		allowed bool
	}{
		{"owner", "u1", body.Params{"owner": "u1"}, true},
		{"someone else", "u2", body.Params{"owner": "u1"}, false},
		{"anonymous", "", body.Params{"owner": ""}, false},
		{"missing param", "u1", body.Params{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := owner(ctx, tt.userID, tt.params)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrDenied)
			}
		})
	}
}

func TestCEL_NestedParams(t *testing.T) {
	fw := MustCEL(`"admin" in params.roles`)
	ctx := context.Background()
	assert.NoError(t, fw(ctx, "u1", body.Params{"roles": []any{"reader", "admin"}}))
	assert.Error(t, fw(ctx, "u1", body.Params{"roles": []any{"reader"}}))
}

func TestCEL_Invalid(t *testing.T) {
	_, err := CEL(`userId ==`)
	assert.Error(t, err)

	_, err = CEL(`"not a bool"`)
	assert.Error(t, err)
}
