// Package template provides command templating over device context.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/narrowin/networka-sub002/internal/device"
)

// Context is the data available to command templates.
type Context struct {
	Name       string            // Device name as resolved
	Host       string            // Hostname or IP address
	Port       int               // SSH port
	Platform   string            // Vendor platform identifier
	User       string            // Login username
	Tags       []string          // Device tags
	Properties map[string]string // Extra device properties
}

// PredefinedTemplates maps template names to command templates usable with
// the --template flag.
var PredefinedTemplates = map[string]string{
	"identify":   "echo {{.Name}} on {{.Host}} ({{.Platform}})",
	"ping-self":  "ping -c 1 {{.Host}}",
	"hostname":   "hostname",
	"interfaces": "ip -br addr show",
}

// IsTemplate reports whether a command contains template syntax.
func IsTemplate(command string) bool {
	return strings.Contains(command, "{{") && strings.Contains(command, "}}")
}

// Render executes a command template against a device's context.
func Render(command, name string, dev *device.Config) (string, error) {
	tmpl, err := template.New("command").Funcs(templateFuncs()).Parse(command)
	if err != nil {
		return "", fmt.Errorf("failed to parse command template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newContext(name, dev)); err != nil {
		return "", fmt.Errorf("failed to render command template: %w", err)
	}

	return buf.String(), nil
}

// RenderPredefined renders a named predefined template.
func RenderPredefined(templateName, name string, dev *device.Config) (string, error) {
	command, exists := PredefinedTemplates[templateName]
	if !exists {
		return "", fmt.Errorf("template %q not found", templateName)
	}
	return Render(command, name, dev)
}

func newContext(name string, dev *device.Config) Context {
	port := dev.Port
	if port == 0 {
		port = device.DefaultPort
	}
	return Context{
		Name:       name,
		Host:       dev.Host,
		Port:       port,
		Platform:   dev.Platform,
		User:       dev.User,
		Tags:       dev.Tags,
		Properties: dev.Properties,
	}
}

// templateFuncs returns the helper functions available in templates.
func templateFuncs() template.FuncMap {
	titleCaser := cases.Title(language.English)

	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": titleCaser.String,
		"join":  strings.Join,
		"prop": func(props map[string]string, key string) string {
			return props[key]
		},
	}
}
