package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListen is the address nexusd serves its HTTP API on.
	DefaultListen = "127.0.0.1:5000"
	// DefaultPollInterval is how often service status is refreshed.
	DefaultPollInterval = time.Second
	// DefaultRepoDepth bounds how deep repository roots are walked.
	DefaultRepoDepth = 4
	// DefaultBackupDir holds backups relative to the daemon's working directory.
	DefaultBackupDir = "backups"
)

// Manifest represents a nexus.yaml configuration file.
type Manifest struct {
	Version      int                `yaml:"version"                 json:"version"`
	Project      string             `yaml:"project"                 json:"project"`
	Root         string             `yaml:"root"                    json:"root"`
	Listen       string             `yaml:"listen,omitempty"        json:"listen,omitempty"`
	PollInterval string             `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	Groups       []Group            `yaml:"groups,omitempty"        json:"groups,omitempty"`
	Services     map[string]Service `yaml:"services"                json:"services"`
	Repos        RepoConfig         `yaml:"repos,omitempty"         json:"repos,omitempty"`
	Chat         ChatConfig         `yaml:"chat,omitempty"          json:"chat,omitempty"`
	Backup       BackupConfig       `yaml:"backup,omitempty"        json:"backup,omitempty"`

	// FilePath is where the manifest was loaded from.
	FilePath string `yaml:"-" json:"-"`
}

// Group is a named collection of service references.
type Group struct {
	Name     string   `yaml:"name"     json:"name"`
	Services []string `yaml:"services" json:"services"`
}

// Service is a managed service definition in the manifest.
type Service struct {
	Kind      string            `yaml:"kind"                 json:"kind"`
	Unit      string            `yaml:"unit,omitempty"       json:"unit,omitempty"`    // systemd
	Command   string            `yaml:"command,omitempty"    json:"command,omitempty"` // exec
	Dir       string            `yaml:"dir,omitempty"        json:"dir,omitempty"`     // exec
	Restart   string            `yaml:"restart,omitempty"    json:"restart,omitempty"` // exec: always|on-failure|never
	Env       map[string]string `yaml:"env,omitempty"        json:"env,omitempty"`     // exec
	Files     []string          `yaml:"files,omitempty"      json:"files,omitempty"`   // log
	DependsOn []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Ports     []int             `yaml:"ports,omitempty"      json:"ports,omitempty"`
}

// RepoConfig lists the directories scanned for git repositories.
type RepoConfig struct {
	Roots    []string `yaml:"roots,omitempty"     json:"roots,omitempty"`
	MaxDepth int      `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
}

// ChatConfig selects the assistant that answers /api/chat.
type ChatConfig struct {
	Provider  string `yaml:"provider,omitempty"    json:"provider,omitempty"` // simulated|anthropic
	Model     string `yaml:"model,omitempty"       json:"model,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"  json:"max_tokens,omitempty"`
	System    string `yaml:"system,omitempty"      json:"system,omitempty"`
}

// BackupConfig locates project backups.
type BackupConfig struct {
	Dir         string `yaml:"dir,omitempty"         json:"dir,omitempty"`
	Compression string `yaml:"compression,omitempty" json:"compression,omitempty"` // none|zlib|gzip|xz
	Level       int    `yaml:"level,omitempty"       json:"level,omitempty"`
}

// Decode reads a manifest as written, without defaults or ${root}
// expansion. It is the form Save writes back.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Parse decodes a manifest, applies defaults and expands ${root}.
func Parse(data []byte) (*Manifest, error) {
	raw, err := Decode(data)
	if err != nil {
		return nil, err
	}
	m := *raw
	if m.Services == nil {
		m.Services = make(map[string]Service)
	}
	if m.Listen == "" {
		m.Listen = DefaultListen
	}
	if m.Repos.MaxDepth == 0 {
		m.Repos.MaxDepth = DefaultRepoDepth
	}
	if m.Backup.Dir == "" {
		m.Backup.Dir = DefaultBackupDir
	}
	m.interpolate()
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.FilePath = path
	return m, nil
}

// Save writes the manifest to path.
func Save(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Interval returns the parsed poll interval, or the default when unset.
func (m *Manifest) Interval() (time.Duration, error) {
	if m.PollInterval == "" {
		return DefaultPollInterval, nil
	}
	d, err := time.ParseDuration(m.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("poll_interval: %w", err)
	}
	return d, nil
}

// GroupOf returns the first group listing the named service.
func (m *Manifest) GroupOf(name string) string {
	for _, g := range m.Groups {
		for _, ref := range g.Services {
			if ref == name {
				return g.Name
			}
		}
	}
	return ""
}

// ServicesOfKind returns the services of one kind keyed by name.
func (m *Manifest) ServicesOfKind(kind string) map[string]Service {
	out := make(map[string]Service)
	for name, svc := range m.Services {
		if svc.Kind == kind {
			out[name] = svc
		}
	}
	return out
}

// Names returns all service names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Services))
	for name := range m.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manifest) interpolate() {
	expand := func(s string) string {
		return strings.ReplaceAll(s, "${root}", m.Root)
	}
	for name, svc := range m.Services {
		svc.Dir = expand(svc.Dir)
		svc.Command = expand(svc.Command)
		for i, f := range svc.Files {
			svc.Files[i] = expand(f)
		}
		m.Services[name] = svc
	}
	for i, r := range m.Repos.Roots {
		m.Repos.Roots[i] = expand(r)
	}
	m.Backup.Dir = expand(m.Backup.Dir)
}
