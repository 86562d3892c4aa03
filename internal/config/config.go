// Package config loads and validates the xenon.yml configuration file:
// the set of browser kinds to manage, the TCP port ranges they may use,
// and the peer nodes to borrow capacity from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// BrowserConfig describes one managed browser kind.
type BrowserConfig struct {
	Name              string   `yaml:"name"`
	Version           string   `yaml:"version,omitempty"`
	OS                string   `yaml:"os,omitempty"`
	DriverPath        string   `yaml:"driver_path"`
	Args              []string `yaml:"args,omitempty"`
	SessionsPerDriver int      `yaml:"sessions_per_driver"`
	MaxSessions       int      `yaml:"max_sessions"`
}

// defaultDriverPath resolves a bare-name default webdriver binary, the way
// original_source/src/browser.rs::default_webdriver does.
func defaultDriverPath(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "chrome":
		return "chromedriver", true
	case "firefox":
		return "geckodriver", true
	default:
		return "", false
	}
}

// NodeConfig describes one peer proxy node to borrow browser capacity from.
type NodeConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Config is the parsed, validated contents of xenon.yml.
type Config struct {
	Browsers []BrowserConfig `yaml:"browsers"`
	Ports    []string        `yaml:"ports"`
	Nodes    []NodeConfig    `yaml:"nodes"`
}

// Empty returns a zero-value Config, used when no config file is present
// and the operator is relying entirely on remote nodes.
func Empty() *Config {
	return &Config{}
}

// Load reads and validates a config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if err := cfg.sanitize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// sanitize fills in defaults and validates the config, failing fast on
// the errors enumerated in the design notes: sessions_per_driver >
// max_sessions, duplicate browser names, empty port ranges when browsers
// are configured, and overlapping port ranges.
func (c *Config) sanitize() error {
	seen := make(map[string]bool, len(c.Browsers))
	for i := range c.Browsers {
		b := &c.Browsers[i]

		if b.Name == "" {
			return fmt.Errorf("browser at index %d: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate browser name %q", b.Name)
		}
		seen[b.Name] = true

		if b.SessionsPerDriver <= 0 {
			return fmt.Errorf("browser %q: sessions_per_driver must be >= 1", b.Name)
		}
		if b.MaxSessions <= 0 {
			return fmt.Errorf("browser %q: max_sessions must be >= 1", b.Name)
		}
		if b.SessionsPerDriver > b.MaxSessions {
			return fmt.Errorf("browser %q: sessions_per_driver (%d) exceeds max_sessions (%d)", b.Name, b.SessionsPerDriver, b.MaxSessions)
		}

		if b.DriverPath == "" {
			path, ok := defaultDriverPath(b.Name)
			if !ok {
				return fmt.Errorf("browser %q: driver_path is required (no default webdriver known for this name)", b.Name)
			}
			b.DriverPath = path
		}
	}

	ports, err := ParsePortList(c.Ports)
	if err != nil {
		return err
	}
	if len(c.Browsers) > 0 && len(ports) == 0 {
		return fmt.Errorf("at least one port range is required when browsers are configured")
	}

	seenNodes := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node entry missing name")
		}
		if seenNodes[n.Name] {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		seenNodes[n.Name] = true
		if n.URL == "" {
			return fmt.Errorf("node %q: url is required", n.Name)
		}
	}

	return nil
}

// PortList returns the validated, expanded list of individual ports this
// config's port ranges cover.
func (c *Config) PortList() []int {
	ports, _ := ParsePortList(c.Ports)
	return ports
}

// ParsePortList expands a list of "<low>-<high>" or "<port>" strings into
// the individual ports they cover, rejecting overlaps and ports <= 1024
// (the original implementation's threshold for "non-privileged").
func ParsePortList(ranges []string) ([]int, error) {
	var ports []int
	claimed := make(map[int]string)

	for _, r := range ranges {
		low, high, err := parseRange(r)
		if err != nil {
			return nil, fmt.Errorf("invalid port range %q: %w", r, err)
		}
		if low <= 1024 || high <= 1024 {
			return nil, fmt.Errorf("invalid port range %q: only ports > 1024 are allowed", r)
		}
		if high < low {
			return nil, fmt.Errorf("invalid port range %q: start port must precede end port", r)
		}
		for p := low; p <= high; p++ {
			if owner, ok := claimed[p]; ok {
				return nil, fmt.Errorf("port %d in range %q overlaps range %q", p, r, owner)
			}
			claimed[p] = r
			ports = append(ports, p)
		}
	}

	return ports, nil
}

func parseRange(r string) (low, high int, err error) {
	parts := strings.SplitN(r, "-", 2)
	switch len(parts) {
	case 1:
		p, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, err
		}
		return p, p, nil
	case 2:
		low, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, err
		}
		high, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, err
		}
		return low, high, nil
	default:
		return 0, 0, fmt.Errorf("expected \"<port>\" or \"<low>-<high>\"")
	}
}
