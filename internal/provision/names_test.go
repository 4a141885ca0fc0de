package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeClientKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple name",
			input:    "Acme Plumbing",
			expected: "acme-plumbing",
		},
		{
			name:     "punctuation collapses",
			input:    "Bob's Bakery & Café!",
			expected: "bob-s-bakery-caf",
		},
		{
			name:     "leading and trailing junk trimmed",
			input:    "  --Widgets Ltd.  ",
			expected: "widgets-ltd",
		},
		{
			name:     "digits kept",
			input:    "24/7 Locksmiths",
			expected: "24-7-locksmiths",
		},
		{
			name:     "nothing usable",
			input:    "!!! ---",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeClientKey(tt.input))
		})
	}
}

func TestRepoName(t *testing.T) {
	assert.Equal(t, "site-acme-plumbing", RepoName("acme-plumbing"))
}

func TestResourceGroupName(t *testing.T) {
	assert.Equal(t, "dn8-test-rg", ResourceGroupName("dn8", "test"))
	assert.Equal(t, "dn8-prod-rg", ResourceGroupName("dn8", "prod"))
}

func TestStorageAccountName(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		env      string
		client   string
		expected string
	}{
		{
			name:     "hyphens stripped",
			prefix:   "dn8",
			env:      "test",
			client:   "acme-plumbing",
			expected: "dn8testacmeplumbing",
		},
		{
			name:     "truncated to azure limit",
			prefix:   "dn8",
			env:      "prod",
			client:   "a-very-long-business-name-indeed",
			expected: "dn8prodaverylongbusiness",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StorageAccountName(tt.prefix, tt.env, tt.client)
			assert.Equal(t, tt.expected, got)
			assert.LessOrEqual(t, len(got), storageAccountMaxLen)
		})
	}
}

func TestAppDisplayName(t *testing.T) {
	assert.Equal(t, "acme-plumbing-deploy-main", AppDisplayName("acme-plumbing", "main"))
}
