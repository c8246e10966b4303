// Package service installs nexusd as a systemd user unit so it runs with
// the login session.
package service

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const unitName = "nexusd.service"

// UnitContents renders nexusd.service for binaryPath serving manifestPath.
// nexusd reports readiness over sd_notify, hence Type=notify.
func UnitContents(binaryPath, manifestPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Nexus service monitor daemon
Documentation=https://github.com/modoterra/nexus

[Service]
Type=notify
ExecStart=%s --manifest %s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, execArg(binaryPath), execArg(manifestPath))
}

// UnitPath is nexusd.service under the user's systemd config directory.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install points the unit at the nexusd found on PATH and at manifestPath,
// then enables it so it runs now and after every login.
func Install(manifestPath string) error {
	binaryPath, err := exec.LookPath("nexusd")
	if err != nil {
		return fmt.Errorf("nexusd not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve nexusd path: %w", err)
	}
	manifestPath, err = filepath.Abs(manifestPath)
	if err != nil {
		return fmt.Errorf("cannot resolve manifest path: %w", err)
	}
	if _, err := os.Stat(manifestPath); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	contents := UnitContents(binaryPath, manifestPath)
	if err := os.WriteFile(unitPath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

// Uninstall reverses Install. A unit that is already stopped or disabled
// is not an error.
func Uninstall() error {
	_ = systemctl("stop", unitName)
	_ = systemctl("disable", unitName)

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}

	return systemctl("daemon-reload")
}

// Status reports whether anything answers on addr and, once the unit is
// installed, what systemd says about it.
func Status(addr string) string {
	var lines []string

	host := strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	host = strings.TrimRight(host, "/")
	if conn, err := net.DialTimeout("tcp", host, time.Second); err == nil {
		conn.Close()
		lines = append(lines, "listener: active ("+host+")")
	} else {
		lines = append(lines, "listener: inactive ("+host+")")
	}

	unitPath, err := UnitPath()
	if err == nil {
		if _, statErr := os.Stat(unitPath); statErr == nil {
			out, runErr := exec.Command("systemctl", "--user", "is-active", unitName).Output()
			state := strings.TrimSpace(string(out))
			if runErr != nil && state == "" {
				state = "unknown"
			}
			lines = append(lines, "systemd user service: "+state)
		} else {
			lines = append(lines, "systemd user service: not installed")
		}
	}

	return strings.Join(lines, "\n")
}

// execArg quotes a path for ExecStart= when it holds whitespace or quotes.
func execArg(s string) string {
	if !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func systemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
