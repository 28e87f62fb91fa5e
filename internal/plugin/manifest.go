package plugin

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeout bounds a single plugin invocation when the manifest sets none.
// It stays under the server's default write timeout.
const DefaultTimeout = 25 * time.Second

// Events is the list of event names a plugin subscribes to.
//
// Accepted formats:
//   - scalar: events: issues
//   - sequence: events: [issues.opened, pull_request]
type Events []string

func (e *Events) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*e = nil
		return nil
	}

	switch n.Kind {
	case yaml.ScalarNode:
		name := strings.TrimSpace(n.Value)
		if name == "" {
			*e = nil
			return nil
		}
		*e = Events{name}
		return nil
	case yaml.SequenceNode:
		out := make(Events, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("invalid event entry (must be a string)")
			}
			if name := strings.TrimSpace(item.Value); name != "" {
				out = append(out, name)
			}
		}
		*e = out
		return nil
	default:
		return fmt.Errorf("events must be a string or a sequence")
	}
}

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Protocol    int            `yaml:"protocol"`
	Entrypoint  string         `yaml:"entrypoint"`
	Description string         `yaml:"description,omitempty"`
	Events      Events         `yaml:"events"`
	Timeout     time.Duration  `yaml:"timeout,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`
}

// Plugin represents a discovered and validated plugin.
type Plugin struct {
	Name        string         // Plugin name from manifest
	Path        string         // Absolute path to plugin directory
	Entrypoint  string         // Absolute path to entrypoint executable
	Protocol    int            // Protocol version
	Version     string         // Plugin version
	Description string         // Human-readable description
	Events      Events         // Subscribed event names
	Timeout     time.Duration  // Per-invocation timeout
	Config      map[string]any // Passed through to the plugin on every request
}

// Subscribes reports whether the plugin listens to the given event name.
func (p *Plugin) Subscribes(name string) bool {
	for _, e := range p.Events {
		if e == name || e == "*" {
			return true
		}
	}
	return false
}
