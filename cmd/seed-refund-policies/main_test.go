package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourhub/tour-booking-core/internal/models"
)

func writePolicyFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPolicies_BundledFile(t *testing.T) {
	policies, err := loadPolicies(filepath.Join("..", "..", "configs", "refund_policies.toml"))
	require.NoError(t, err)
	require.Len(t, policies, 5)

	first := policies[0]
	assert.Equal(t, "customer-early", first.Name)
	assert.Equal(t, models.RefundTypeUserCancellation, first.RefundType)
	assert.Nil(t, first.MaxDaysBeforeEvent)
	assert.NotEqual(t, uuid.Nil, first.ID)

	require.NotNil(t, policies[1].MaxDaysBeforeEvent)
	assert.Equal(t, 13, *policies[1].MaxDaysBeforeEvent)
	assert.Equal(t, 3.0, policies[1].ProcessingFeePercentage)
}

func TestLoadPolicies_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "Empty",
			body: "# nothing here\n",
			want: "no [[policy]] entries",
		},
		{
			name: "Unknown Key",
			body: "[[policy]]\nname = \"a\"\nrefund_type = \"user_cancellation\"\nrefund_pct = 10.0\n",
			want: "unknown keys",
		},
		{
			name: "Duplicate Name",
			body: "[[policy]]\nname = \"a\"\nrefund_type = \"user_cancellation\"\n\n[[policy]]\nname = \"a\"\nrefund_type = \"user_cancellation\"\n",
			want: "declared twice",
		},
		{
			name: "Inverted Range",
			body: "[[policy]]\nname = \"a\"\nrefund_type = \"user_cancellation\"\nmin_days = 10\nmax_days = 2\n",
			want: "max_days must be >= min_days",
		},
		{
			name: "Bad Type",
			body: "[[policy]]\nname = \"a\"\nrefund_type = \"goodwill\"\n",
			want: "unknown refund type",
		},
		{
			name: "Missing Name",
			body: "[[policy]]\nrefund_type = \"user_cancellation\"\n",
			want: "name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadPolicies(writePolicyFile(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadPolicies_DefaultsEffectiveFrom(t *testing.T) {
	policies, err := loadPolicies(writePolicyFile(t, "[[policy]]\nname = \"a\"\nrefund_type = \"auto_cancellation\"\nrefund_percentage = 100.0\n"))
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.False(t, policies[0].EffectiveFrom.IsZero())
}
