package secrets

import "os"

// Binding ties one credential field of a delivery provider to the vault
// key that supplies it when the YAML config leaves the field blank.
type Binding struct {
	Provider string
	Field    string
	Key      string
}

// Bindings lists the credential fields each delivery provider may omit
// from its config. The dashboard provider has no entry: it pushes through
// the in-process WebSocket hub and holds no credentials.
func Bindings() []Binding {
	return []Binding{
		{Provider: "push", Field: "api_key", Key: "DRAWBRIDGE_PUSH_API_KEY"},
		{Provider: "sms", Field: "auth_token", Key: "DRAWBRIDGE_TWILIO_AUTH_TOKEN"},
		{Provider: "email", Field: "password", Key: "DRAWBRIDGE_SMTP_PASSWORD"},
		{Provider: "slack", Field: "webhook_url", Key: "DRAWBRIDGE_SLACK_WEBHOOK_URL"},
		{Provider: "discord", Field: "webhook_url", Key: "DRAWBRIDGE_DISCORD_WEBHOOK_URL"},
	}
}

// EnvKeys returns the environment variable names consulted by Bindings.
func EnvKeys() []string {
	bindings := Bindings()
	keys := make([]string, 0, len(bindings))
	for _, b := range bindings {
		keys = append(keys, b.Key)
	}
	return keys
}

// EnvLoader returns a Loader that reads the given environment variables.
// Unset variables are omitted so Fill leaves their fields untouched.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
