package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// LoadPromptPair reads <base>.system.txt and <base>.user.txt from the
// prompts directory. A missing or unreadable file yields an empty string;
// callers fall back to their built-in prompt.
func LoadPromptPair(dir, base string) (system, user string) {
	return readPrompt(dir, base+".system.txt"), readPrompt(dir, base+".user.txt")
}

func readPrompt(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return string(data)
}

// RenderPrompt substitutes {{key}} placeholders with their values. Unknown
// placeholders are left in place so a template typo stays visible.
func RenderPrompt(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
