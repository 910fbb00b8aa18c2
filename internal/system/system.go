// Package system probes the host for the software-fallback encoder
// dependency (ffmpeg) and basic OS identification used to suggest an
// install command when it is missing.
package system

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// DependencyStatus reports whether an external binary this daemon shells
// out to (currently just ffmpeg, the time-lapse software-fallback encoder)
// is installed.
type DependencyStatus struct {
	Name           string `json:"name"`
	Installed      bool   `json:"installed"`
	Path           string `json:"path"`
	Version        string `json:"version"`
	InstallCommand string `json:"install_command"`
}

// CheckFFmpeg looks up ffmpeg on PATH and reports its version, with an
// install command for when it is missing.
func CheckFFmpeg() DependencyStatus {
	status := DependencyStatus{
		Name:           "ffmpeg",
		InstallCommand: getFFmpegInstallCommand(),
	}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return status
	}
	status.Installed = true
	status.Path = path

	out, err := exec.Command("ffmpeg", "-version").Output()
	if err == nil {
		lines := strings.Split(string(out), "\n")
		if len(lines) > 0 {
			if parts := strings.Fields(lines[0]); len(parts) >= 3 {
				status.Version = parts[2]
			}
		}
	}
	return status
}

func getFFmpegInstallCommand() string {
	switch detectOS() {
	case "windows":
		return "winget install ffmpeg"
	case "debian", "ubuntu":
		return "sudo apt install ffmpeg"
	case "fedora":
		return "sudo dnf install ffmpeg"
	case "arch":
		return "sudo pacman -S ffmpeg"
	case "darwin":
		return "brew install ffmpeg"
	case "alpine":
		return "sudo apk add ffmpeg"
	default:
		return "# Install ffmpeg using your package manager"
	}
}

func detectOS() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "darwin"
	}
	if runtime.GOOS != "linux" {
		return runtime.GOOS
	}

	file, err := os.Open("/etc/os-release")
	if err != nil {
		return "linux"
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ID=") {
			return strings.ToLower(strings.Trim(strings.TrimPrefix(line, "ID="), `"`))
		}
	}
	if _, err := os.Stat("/etc/debian_version"); err == nil {
		return "debian"
	}
	if _, err := os.Stat("/etc/fedora-release"); err == nil {
		return "fedora"
	}
	if _, err := os.Stat("/etc/arch-release"); err == nil {
		return "arch"
	}
	return "linux"
}

// GetOSInfo returns the detected distro/OS id.
func GetOSInfo() string { return detectOS() }

// FreeSpaceBytes reports free bytes on the filesystem containing path; used
// by the time-lapse storage-info endpoint. Defined here (rather than a
// platform-specific statfs wrapper per call site) since it is the one
// ambient "ask the OS about a path" concern outside V4L2/camera territory.
func FreeSpaceBytes(path string) (uint64, error) {
	return statfsFree(path)
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(filepath.Clean(path))
	return err == nil && info.IsDir()
}
