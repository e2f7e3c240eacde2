package router

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SSHConfig holds the ~/.ssh/config settings for one router alias.
type SSHConfig struct {
	Host          string
	HostName      string
	User          string
	IdentityFile  string
	IdentityAgent string
	Port          int
}

// LoadSSHConfig reads the ssh config at path (~/.ssh/config when empty)
// and returns the block for host. A missing file or host yields nil.
func LoadSSHConfig(host, path string) (*SSHConfig, error) {
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		homeDir, _ = os.UserHomeDir()
	}
	if path == "" {
		if homeDir == "" {
			return nil, nil
		}
		path = filepath.Join(homeDir, ".ssh", "config")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open SSH config: %w", err)
	}
	defer f.Close()

	return parseSSHConfig(host, f, homeDir)
}

func parseSSHConfig(host string, r io.Reader, homeDir string) (*SSHConfig, error) {
	cfg := &SSHConfig{Host: host}
	inHost, found := false, false

	expand := func(v string) string {
		v = strings.Trim(v, `"`)
		if strings.HasPrefix(v, "~/") && homeDir != "" {
			return filepath.Join(homeDir, v[2:])
		}
		return v
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		keyword := strings.ToLower(parts[0])
		value := strings.Join(parts[1:], " ")

		if keyword == "host" {
			if inHost {
				break
			}
			for _, pattern := range parts[1:] {
				if pattern == host {
					inHost, found = true, true
				}
			}
			continue
		}
		if !inHost {
			continue
		}

		switch keyword {
		case "hostname":
			cfg.HostName = value
		case "user":
			cfg.User = value
		case "identityfile":
			cfg.IdentityFile = expand(value)
		case "identityagent":
			cfg.IdentityAgent = expand(value)
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid port %q for host %s", value, host)
			}
			cfg.Port = port
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading SSH config: %w", err)
	}
	if !found {
		return nil, nil
	}
	return cfg, nil
}

// apply fills the options that were left at their zero value.
func (c *SSHConfig) apply(opts *Options) {
	if c == nil {
		return
	}
	if c.HostName != "" {
		opts.Host = c.HostName
	}
	if opts.User == "" {
		opts.User = c.User
	}
	if opts.IdentityFile == "" {
		opts.IdentityFile = c.IdentityFile
	}
	if opts.IdentityAgent == "" {
		opts.IdentityAgent = c.IdentityAgent
	}
	if opts.Port == 0 {
		opts.Port = c.Port
	}
}
