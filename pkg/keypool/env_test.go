package keypool

import (
	"fmt"
	"testing"
)

func TestSecretsFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{
			name: "single key",
			env:  map[string]string{"RECIPE_API_KEY": "abc123"},
			want: []string{"abc123"},
		},
		{
			name: "numbered keys in order",
			env: map[string]string{
				"RECIPE_API_KEY":   "first",
				"RECIPE_API_KEY_2": "second",
				"RECIPE_API_KEY_3": "third",
			},
			want: []string{"first", "second", "third"},
		},
		{
			name: "gap in numbering",
			env: map[string]string{
				"RECIPE_API_KEY":   "first",
				"RECIPE_API_KEY_3": "third",
			},
			want: []string{"first", "third"},
		},
		{
			name: "stray quotes stripped",
			env: map[string]string{
				"RECIPE_API_KEY":   `"quoted"`,
				"RECIPE_API_KEY_2": "'single'",
				"RECIPE_API_KEY_3": "  spaced  ",
			},
			want: []string{"quoted", "single", "spaced"},
		},
		{
			name: "no keys",
			env:  map[string]string{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got := SecretsFromEnv("RECIPE_API_KEY")
			if len(got) != len(tt.want) {
				t.Fatalf("SecretsFromEnv = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("secret[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSecretsFromEnv_MaxKeys(t *testing.T) {
	for i := 2; i <= maxEnvKeys+5; i++ {
		t.Setenv(fmt.Sprintf("RECIPE_API_KEY_%d", i), fmt.Sprintf("key%d", i))
	}
	t.Setenv("RECIPE_API_KEY", "key1")

	got := SecretsFromEnv("RECIPE_API_KEY")
	if len(got) != maxEnvKeys {
		t.Errorf("SecretsFromEnv returned %d keys, want cap of %d", len(got), maxEnvKeys)
	}
}
