package config

import (
	"bytes"
	"os"
	"text/template"
)

// ExpandEnv expands environment variables in config file content using Go
// templates. Uses {{.VAR_NAME}} syntax to avoid collision with $ in
// literal values.
//
// Examples:
//   - {{.OPENROUTER_API_KEY}} → value of OPENROUTER_API_KEY
//   - {{.ADMIN_TOKEN}} → value of ADMIN_TOKEN
//
// Missing variables expand to empty string (unless the template is
// malformed, in which case the content passes through untouched and
// validation catches required fields that stayed empty).
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// Content without template syntax passes through unchanged.
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
