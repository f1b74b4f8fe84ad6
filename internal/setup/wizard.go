package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cortexuvula/massagesync/internal/config"
)

const (
	// DefaultConfigPath is where the service unit expects its config.
	DefaultConfigPath = "/etc/massagesync/config.yaml"

	defaultListenAddress = "0.0.0.0:8001"
	defaultHealthPort    = "8081"
	serviceName          = "massagesync"
)

// WizardOptions configures the setup wizard.
type WizardOptions struct {
	ConfigPath string      // Override default config path
	IsRoot     func() bool // Override root detection (for testing)
}

// RunWizard runs the interactive setup wizard.
// It takes io.Reader/io.Writer for testability.
func RunWizard(in io.Reader, out io.Writer, opts WizardOptions) error {
	scanner := bufio.NewScanner(in)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	isRoot := os.Geteuid() == 0
	if opts.IsRoot != nil {
		isRoot = opts.IsRoot()
	}
	if !isRoot && configPath == DefaultConfigPath {
		configPath = "./config.yaml"
		fmt.Fprintf(out, "NOTE: Not running as root. Config will be written to %s\n", configPath)
		fmt.Fprintf(out, "      Run with sudo for system-wide install: sudo massagesync setup\n\n")
	}

	fmt.Fprintln(out, "massagesync setup")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)

	cfg := config.DefaultConfig()

	// Step 1: Public listener
	cfg.Server.ListenAddress = promptAddress(scanner, out,
		fmt.Sprintf("Listen address [%s]: ", defaultListenAddress),
		defaultListenAddress)
	host, port, _ := net.SplitHostPort(cfg.Server.ListenAddress)
	if reason := checkPortAvailable(host, port); reason != "" {
		fmt.Fprintf(out, "  WARNING: %s %s\n\n", cfg.Server.ListenAddress, reason)
	}

	// Step 2: Loopback health/admin listener
	healthPort := promptPort(scanner, out,
		fmt.Sprintf("Health and admin port [%s]: ", defaultHealthPort),
		defaultHealthPort)
	cfg.Health.ListenAddress = net.JoinHostPort("127.0.0.1", healthPort)
	if reason := checkPortAvailable("127.0.0.1", healthPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on 127.0.0.1 %s\n\n", healthPort, reason)
	}

	// Step 3: Preference store
	cfg.Store.Driver = promptChoice(scanner, out, "Store driver (sqlite, memory) [sqlite]: ", "sqlite", "sqlite", "memory")
	if cfg.Store.Driver == "sqlite" {
		defaultDB := cfg.Store.Path
		if !isRoot {
			defaultDB = "./sessions.db"
		}
		cfg.Store.Path = prompt(scanner, out, fmt.Sprintf("Database path [%s]: ", defaultDB), defaultDB)
	} else {
		fmt.Fprintln(out, "  NOTE: the memory store loses every session on restart.")
	}

	// Step 4: Roles and browser origins
	cfg.Server.AllowedRoles = splitList(prompt(scanner, out,
		"Allowed roles, comma separated (leave empty for any): ", ""))
	cfg.Server.CORSAllowedOrigins = splitList(prompt(scanner, out,
		"Allowed browser origins, comma separated [*]: ", "*"))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	// Step 5: Check for existing config
	if _, err := os.Stat(configPath); err == nil {
		overwrite := prompt(scanner, out,
			fmt.Sprintf("Config already exists at %s. Overwrite? [y/N]: ", configPath), "n")
		if !strings.HasPrefix(strings.ToLower(overwrite), "y") {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	// Step 6: Write and re-read the config
	fmt.Fprintf(out, "\nWriting config to %s...\n", configPath)
	content, err := Render(cfg)
	if err != nil {
		return err
	}
	if err := writeConfig(configPath, content, isRoot, out); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintln(out, "  Config written successfully.")

	fmt.Fprintln(out, "  Validating config...")
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintln(out, "  Config is valid.")

	// Step 7: Offer to start the systemd service (Linux + root only)
	if isRoot && isSystemdAvailable() {
		fmt.Fprintln(out)
		startService := prompt(scanner, out,
			"Start massagesync service now? [Y/n]: ", "y")
		if strings.HasPrefix(strings.ToLower(startService), "y") {
			if err := startSystemdService(out); err != nil {
				fmt.Fprintf(out, "  WARNING: Failed to start service: %v\n", err)
				fmt.Fprintln(out, "  You can start it manually: sudo systemctl start massagesync")
			}
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:       %s\n", configPath)
	fmt.Fprintf(out, "  API:          http://%s/api/sessions\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "  Channels:     ws://%s/api/ws/{session_id}/{role}\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "  Health:       http://%s/health\n", cfg.Health.ListenAddress)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Useful commands:")
	fmt.Fprintf(out, "  Check health:   massagesync health --url http://%s/health\n", cfg.Health.ListenAddress)
	fmt.Fprintln(out, "  View logs:      sudo journalctl -u massagesync -f")
	fmt.Fprintln(out, "  Validate:       massagesync validate --config "+configPath)

	return nil
}

// Render produces the YAML config file for cfg with a short header.
func Render(cfg *config.Config) (string, error) {
	data, err := config.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("rendering config: %w", err)
	}
	return "# massagesync configuration\n" +
		"# Environment variables prefixed MASSAGESYNC_ override these values.\n" +
		"# Reload with: systemctl reload massagesync\n\n" + string(data), nil
}

// WriteFile writes content to path unless it exists and force is false.
func WriteFile(path, content string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	return writeConfig(path, content, false, io.Discard)
}

// prompt displays a message and reads a line from the scanner.
// Returns defaultVal if input is empty or EOF.
func prompt(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	fmt.Fprint(out, message)
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// validatePort checks that a port string is a valid TCP port (1-65535).
func validatePort(port string) bool {
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// promptPort prompts for a port, re-prompting on invalid input.
// Returns defaultVal on empty/EOF input.
func promptPort(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	val := prompt(scanner, out, message, defaultVal)
	for !validatePort(val) {
		fmt.Fprintf(out, "  Invalid port %q: must be a number between 1 and 65535\n", val)
		val = prompt(scanner, out, message, defaultVal)
		if val == defaultVal {
			return defaultVal
		}
	}
	return val
}

// promptAddress prompts for host:port, re-prompting on invalid input.
func promptAddress(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	val := prompt(scanner, out, message, defaultVal)
	for !validAddress(val) {
		fmt.Fprintf(out, "  Invalid address %q: expected host:port\n", val)
		val = prompt(scanner, out, message, defaultVal)
		if val == defaultVal {
			return defaultVal
		}
	}
	return val
}

func validAddress(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err == nil && validatePort(port)
}

// promptChoice prompts until the answer is one of choices.
func promptChoice(scanner *bufio.Scanner, out io.Writer, message, defaultVal string, choices ...string) string {
	for {
		val := strings.ToLower(prompt(scanner, out, message, defaultVal))
		for _, c := range choices {
			if val == c {
				return c
			}
		}
		fmt.Fprintf(out, "  Invalid choice %q: expected one of %s\n", val, strings.Join(choices, ", "))
		if val == defaultVal {
			return defaultVal
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// checkPortAvailable checks if a TCP port is free on the given host.
// Returns empty string if available, or a reason string if not.
func checkPortAvailable(host, port string) string {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return "permission denied (try sudo or a port >= 1024)"
		}
		return "appears to be in use"
	}
	ln.Close()
	return ""
}

// isSystemdAvailable checks if systemctl is available.
func isSystemdAvailable() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// startSystemdService starts (or restarts) the service and reports its state.
func startSystemdService(out io.Writer) error {
	if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	if err := exec.Command("systemctl", "restart", serviceName).Run(); err != nil {
		if err := exec.Command("systemctl", "start", serviceName).Run(); err != nil {
			return err
		}
	}

	time.Sleep(2 * time.Second)
	output, err := exec.Command("systemctl", "is-active", serviceName).Output()
	if err != nil {
		return fmt.Errorf("service did not start (status: %s)", strings.TrimSpace(string(output)))
	}
	status := strings.TrimSpace(string(output))
	if status == "active" {
		fmt.Fprintln(out, "  Service started successfully.")
	} else {
		fmt.Fprintf(out, "  Service status: %s\n", status)
	}
	return nil
}

// writeConfig writes the config file, creating parent directories as needed.
// As root it hands the file to the service account.
func writeConfig(path, content string, setOwnership bool, out io.Writer) error {
	path = filepath.Clean(path)

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if setOwnership {
		if err := chownToService(path); err != nil {
			fmt.Fprintf(out, "  WARNING: Could not set ownership to %s: %v\n", serviceName, err)
		}
	}
	return nil
}

func chownToService(path string) error {
	u, err := user.Lookup(serviceName)
	if err != nil {
		return err
	}
	g, err := user.LookupGroup(serviceName)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return fmt.Errorf("parsing gid %q: %w", g.Gid, err)
	}
	return os.Chown(path, uid, gid)
}
