package prompts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-client/internal/prompts"
)

func TestPlaceholders(t *testing.T) {
	content := "World: {{world.name}}. Hero: {{ hero }} meets {{hero}} again."
	assert.Equal(t, []string{"world.name", "hero"}, prompts.Placeholders(content))
}

func TestPlaceholders_None(t *testing.T) {
	assert.Empty(t, prompts.Placeholders("plain text without markers"))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		required []string
		wantErr  string
	}{
		{
			name:     "valid template",
			content:  "Describe {{world}} and {{hero}}.",
			required: []string{"world", "hero"},
		},
		{
			name:    "empty content",
			content: "   ",
			wantErr: "empty",
		},
		{
			name:    "unbalanced braces",
			content: "Describe {{world and more",
			wantErr: "unbalanced",
		},
		{
			name:     "missing required placeholder",
			content:  "Describe {{world}}.",
			required: []string{"world", "hero"},
			wantErr:  "missing required placeholders: hero",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := prompts.Validate(tc.content, tc.required)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	count, err := prompts.EstimateTokens("Write the opening chapter of a mystery novel.")
	require.NoError(t, err)
	assert.Greater(t, count, 0)

	longer, err := prompts.EstimateTokens("Write the opening chapter of a mystery novel. Then write the second chapter with more detail about the detective.")
	require.NoError(t, err)
	assert.Greater(t, longer, count)
}
