// conf/utils.go
package conf

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tphakala/rtvc/internal/logging"
)

// GetDefaultConfigPaths returns a list of default configuration paths for the current operating system.
// It determines paths based on standard conventions for storing application configuration files.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	// Fetch the directory of the executable.
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("error fetching executable path: %v", err)
	}
	exeDir := filepath.Dir(exePath)

	// Fetch the user's home directory.
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %v", err)
	}

	// Define default paths based on the operating system.
	switch runtime.GOOS {
	case "windows":
		// For Windows, use the executable directory and the AppData Roaming directory.
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "rtvc"),
		}
	default:
		// For Linux and macOS, use a hidden directory in the home directory and a system-wide configuration directory.
		configPaths = []string{
			filepath.Join(homeDir, ".config", "rtvc"),
			"/etc/rtvc",
		}
	}

	return configPaths, nil
}

// GetBasePath expands environment variables in the given path and ensures the resulting path exists.
// A relative path is kept relative, so it resolves against the process's working directory.
// Used to resolve Settings.Conversion.ScratchDir before use.
func GetBasePath(path string) string {
	// Expand environment variables in the path.
	expandedPath := os.ExpandEnv(path)

	// Normalize the path to handle any irregularities such as trailing slashes.
	basePath := filepath.Clean(expandedPath)

	// Check if the directory exists.
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		// Attempt to create the directory if it doesn't exist.
		if err := os.MkdirAll(basePath, 0755); err != nil {
			logging.ForService("conf").Warn("failed to create directory", "path", basePath, "error", err)
		}
	}

	return basePath
}

// PrintUserInfo checks the operating system. If it's Linux and the current
// user is not root, it logs an error when the user is not a member of the
// audio group, which is required for audioio's native malgo device backend to
// open capture and playback devices.
func PrintUserInfo() {
	logger := logging.ForService("conf")
	var audioMember bool
	// Get current user
	if runtime.GOOS == "linux" {
		currentUser, err := user.Current()
		if err != nil {
			logger.Warn("failed to get current user", "error", err)
			return
		}

		// if current user is root, return as it has all permissions anyway
		if currentUser.Username == "root" {
			return
		}

		// Get group memberships
		groupIDs, err := currentUser.GroupIds()
		if err != nil {
			logger.Warn("failed to get group memberships", "error", err)
			return
		}

		for _, gid := range groupIDs {
			group, err := user.LookupGroupId(gid)
			if err != nil {
				logger.Warn("failed to look up group", "gid", gid, "error", err)
				continue
			}
			if group.Name == "audio" {
				audioMember = true
			}
		}
		if !audioMember {
			logger.Error("user is not a member of the audio group; audio device access will likely fail",
				"user", currentUser.Username, "fix", fmt.Sprintf("sudo usermod -a -G audio %s", currentUser.Username))
		}
	}
}

// RunningInContainer checks if the program is running inside a container.
// Used to warn operators that host audio devices are often unavailable
// inside containers, before the native device backend is started.
func RunningInContainer() bool {
	logger := logging.ForService("conf")

	// Check for the existence of the /.dockerenv file (Docker-specific).
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	// Check for the existence of the /run/.containerenv file (Podman-specific).
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}

	// Check the container environment variable.
	if containerEnv, exists := os.LookupEnv("container"); exists && containerEnv != "" {
		return true
	}

	// Check cgroup for hints of container runtime.
	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		logger.Debug("could not inspect /proc/self/cgroup", "error", err)
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "docker") || strings.Contains(line, "podman") {
			return true
		}
	}

	return false
}
