package manifest

import "fmt"

// Validate checks the manifest for structural correctness.
func Validate(m *Manifest) []error {
	var errs []error

	if m.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", m.Version))
	}

	if len(m.Services) == 0 {
		errs = append(errs, fmt.Errorf("manifest must define at least one service"))
	}

	if _, err := m.Interval(); err != nil {
		errs = append(errs, err)
	}

	for _, name := range m.Names() {
		svc := m.Services[name]
		switch svc.Kind {
		case "systemd":
			if svc.Unit == "" {
				errs = append(errs, fmt.Errorf("service %q (systemd): unit is required", name))
			}
		case "exec":
			if svc.Command == "" {
				errs = append(errs, fmt.Errorf("service %q (exec): command is required", name))
			}
			if svc.Restart != "" && svc.Restart != "always" && svc.Restart != "on-failure" && svc.Restart != "never" {
				errs = append(errs, fmt.Errorf("service %q (exec): restart must be always, on-failure, or never; got %q", name, svc.Restart))
			}
		case "log":
			if len(svc.Files) == 0 {
				errs = append(errs, fmt.Errorf("service %q (log): files is required", name))
			}
		case "":
			errs = append(errs, fmt.Errorf("service %q: kind is required", name))
		default:
			errs = append(errs, fmt.Errorf("service %q: unknown kind %q", name, svc.Kind))
		}
	}

	for _, g := range m.Groups {
		for _, ref := range g.Services {
			if _, ok := m.Services[ref]; !ok {
				errs = append(errs, fmt.Errorf("group %q references unknown service %q", g.Name, ref))
			}
		}
	}

	errs = append(errs, validateDeps(m)...)
	errs = append(errs, validatePorts(m)...)

	switch m.Chat.Provider {
	case "", "simulated":
	case "anthropic":
		if m.Chat.APIKeyEnv == "" {
			errs = append(errs, fmt.Errorf("chat: api_key_env is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("chat: unknown provider %q", m.Chat.Provider))
	}

	if m.Repos.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("repos: max_depth must not be negative"))
	}

	switch m.Backup.Compression {
	case "", "none", "zlib", "gzip", "xz":
	default:
		errs = append(errs, fmt.Errorf("backup: unknown compression %q", m.Backup.Compression))
	}
	if m.Backup.Level < 0 || m.Backup.Level > 9 {
		errs = append(errs, fmt.Errorf("backup: level must be between 0 and 9"))
	}

	return errs
}
