package keypool

import (
	"fmt"
	"os"
	"strings"
)

// maxEnvKeys caps how many numbered environment variables are scanned.
const maxEnvKeys = 10

// SecretsFromEnv collects API key secrets from environment variables using
// the numbered-suffix convention: NAME, NAME_2, NAME_3, ... up to
// maxEnvKeys. Empty slots are skipped, order is preserved.
//
// Values copied out of dashboards often arrive wrapped in stray quotes;
// those are stripped along with surrounding whitespace.
func SecretsFromEnv(name string) []string {
	var secrets []string

	if secret := cleanSecret(os.Getenv(name)); secret != "" {
		secrets = append(secrets, secret)
	}
	for i := 2; i <= maxEnvKeys; i++ {
		if secret := cleanSecret(os.Getenv(fmt.Sprintf("%s_%d", name, i))); secret != "" {
			secrets = append(secrets, secret)
		}
	}

	return secrets
}

// cleanSecret trims whitespace and stray quote characters from a raw value.
func cleanSecret(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), `"'`)
}
