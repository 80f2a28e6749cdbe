// Package device defines the device and group configuration records shared
// by the inventory, resolver and execution layers.
package device

import (
	"fmt"
	"net"
	"strconv"
)

// Config holds the connection and classification attributes of one device.
type Config struct {
	Host         string            `yaml:"host" mapstructure:"host"`                   // Hostname or IP address
	Port         int               `yaml:"port" mapstructure:"port"`                   // SSH port number
	Platform     string            `yaml:"platform" mapstructure:"platform"`           // Vendor platform identifier (e.g. mikrotik_routeros)
	User         string            `yaml:"user" mapstructure:"user"`                   // Login username
	Password     string            `yaml:"password" mapstructure:"password"`           // Login password (optional, agent/key preferred)
	IdentityFile string            `yaml:"identity_file" mapstructure:"identity_file"` // Path to SSH private key file
	Tags         []string          `yaml:"tags" mapstructure:"tags"`                   // Free-form tags used by group tag matching
	Properties   map[string]string `yaml:"properties" mapstructure:"properties"`       // Extra vendor/user properties
}

// Group holds the membership definition of one device group. A group can
// enumerate members explicitly, match devices by tag, or both.
type Group struct {
	Description string   `yaml:"description" mapstructure:"description"`
	Members     []string `yaml:"members" mapstructure:"members"`
	MatchTags   []string `yaml:"match_tags" mapstructure:"match_tags"`
}

// DefaultPort is used when a device omits its port.
const DefaultPort = 22

// Address returns the dialable host:port for the device.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// HasTag reports whether the device carries the given tag.
func (c *Config) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate ensures the device record can be dialed.
func (c *Config) Validate(name string) error {
	if c.Host == "" {
		return fmt.Errorf("device %q: host cannot be empty", name)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("device %q: port %d out of valid range (0-65535)", name, c.Port)
	}
	return nil
}
