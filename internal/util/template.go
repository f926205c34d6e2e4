package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// RenderTemplate executes text as a text/template against data. Referencing a
// key that data does not provide is a rendering error.
func RenderTemplate(name, text string, data map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join": func(sep string, items []string) string {
			return strings.Join(items, sep)
		},
		"bullets": func(items []string) string {
			var b strings.Builder
			for _, item := range items {
				fmt.Fprintf(&b, "- %s\n", item)
			}
			return strings.TrimSuffix(b.String(), "\n")
		},
	}).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}

	return buf.String(), nil
}
