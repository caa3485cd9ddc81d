package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultUnitPath = "/etc/systemd/system/plc-dashboard.service"

type ServiceOptions struct {
	UnitPath   string
	User       string
	WorkingDir string
	Binary     string
	Args       []string
}

// RenderUnit returns the systemd unit that runs the dashboard service.
func RenderUnit(opts ServiceOptions) (string, error) {
	if opts.Binary == "" {
		return "", fmt.Errorf("service binary path is required")
	}
	if !filepath.IsAbs(opts.Binary) {
		return "", fmt.Errorf("service binary path must be absolute, got %s", opts.Binary)
	}

	execStart := opts.Binary
	if len(opts.Args) > 0 {
		execStart += " " + strings.Join(opts.Args, " ")
	}

	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=PLC dashboard acquisition service\n")
	b.WriteString("Wants=network-online.target\n")
	b.WriteString("After=network-online.target\n\n")
	b.WriteString("[Service]\n")
	b.WriteString("Type=simple\n")
	if opts.User != "" {
		fmt.Fprintf(&b, "User=%s\n", opts.User)
	}
	if opts.WorkingDir != "" {
		fmt.Fprintf(&b, "WorkingDirectory=%s\n", opts.WorkingDir)
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", execStart)
	b.WriteString("Restart=on-failure\n")
	b.WriteString("RestartSec=5s\n\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String(), nil
}

func InstallService(opts ServiceOptions) error {
	unit, err := RenderUnit(opts)
	if err != nil {
		return err
	}
	path := opts.UnitPath
	if path == "" {
		path = DefaultUnitPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}
	return os.WriteFile(path, []byte(unit), 0644)
}
