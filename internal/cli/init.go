package cli

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/popwatch/internal/authority"
	"github.com/ppiankov/popwatch/internal/model"
	"github.com/ppiankov/popwatch/internal/systemd"
)

var (
	initMode           string
	initInstallSystemd bool
	initForce          bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.popwatch) or system (/etc/popwatch)")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install the popwatch-authority systemd unit (requires root)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Bootstrap popwatch configuration and optional systemd integration",
	Long: `Creates the config directory, a default authority.yaml, a prefs.yaml
holding the built-in preferences, and the pending popup directory.

User mode (default):  writes to ~/.popwatch/
System mode:          writes to /etc/popwatch/ (requires root)

With --install-systemd: installs popwatch-authority.service, which runs
"popwatch serve" as the invoking user.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	var created []string

	// Create directory structure.
	pendingDir := filepath.Join(configDir, "pending")
	if err := os.MkdirAll(pendingDir, 0o755); err != nil {
		return fmt.Errorf("create pending directory: %w", err)
	}

	// Write authority.yaml.
	authorityPath := filepath.Join(configDir, "authority.yaml")
	if wrote, err := writeIfMissing(authorityPath, authority.DefaultConfigYAML); err != nil {
		return err
	} else if wrote {
		created = append(created, authorityPath)
	}

	// Write prefs.yaml.
	prefsPath := filepath.Join(configDir, "prefs.yaml")
	prefsContent, err := defaultPrefsYAML()
	if err != nil {
		return fmt.Errorf("generate default preferences: %w", err)
	}
	if wrote, err := writeIfMissing(prefsPath, prefsContent); err != nil {
		return err
	} else if wrote {
		created = append(created, prefsPath)
	}

	// Install systemd unit if requested.
	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}

		bin, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate popwatch binary: %w", err)
		}
		owner := os.Getenv("SUDO_USER")
		if owner == "" {
			u, err := user.Current()
			if err != nil {
				return fmt.Errorf("determine service user: %w", err)
			}
			owner = u.Username
		}

		if err := os.WriteFile(systemd.UnitPath, []byte(systemd.AuthorityUnit(bin, owner)), 0o644); err != nil {
			return fmt.Errorf("write systemd unit: %w", err)
		}
		created = append(created, systemd.UnitPath)

		// Reload systemd.
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	// Print summary.
	fmt.Println("popwatch init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
		fmt.Println()
	}

	// Print next steps.
	fmt.Println("Load preferences:")
	fmt.Printf("  popwatch prefs sync %s\n", prefsPath)
	fmt.Println()
	fmt.Println("Start the authority:")
	if initInstallSystemd {
		fmt.Println("  sudo systemctl enable --now popwatch-authority")
	} else {
		fmt.Printf("  popwatch serve --config %s\n", authorityPath)
	}

	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/popwatch", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".popwatch"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultPrefsYAML generates a commented prefs.yaml holding the built-in preferences.
func defaultPrefsYAML() (string, error) {
	data, err := yaml.Marshal(model.DefaultPreferences())
	if err != nil {
		return "", err
	}
	header := "# popwatch preferences.\n" +
		"# Pages load these at startup; edits apply to open pages after\n" +
		"# popwatch prefs sync (or continuously with --watch).\n" +
		"#\n" +
		"# popup-hosts: destinations that may always open (subdomains match too).\n" +
		"# protocols: URL schemes that may always open, with trailing colon.\n\n"
	return header + string(data), nil
}
