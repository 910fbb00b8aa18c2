package control

import (
	"fmt"
	"path/filepath"
	"strings"
)

// shellMetacharacters are the characters §4.J's security rule rejects in
// any file-path input: quotes, semicolon, space, dollar, pipe, ampersand,
// newline, carriage return.
const shellMetacharacters = "'\";$|&\n\r "

// validateFilename rejects a time-lapse filename containing ".." path
// segments, shell metacharacters, or a path separator (names must be a
// single path component).
func validateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("empty filename")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("path traversal rejected")
	}
	if strings.ContainsAny(name, shellMetacharacters) {
		return fmt.Errorf("invalid characters in filename")
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("path separators not allowed in filename")
	}
	return nil
}

// validateBrowsePath rejects ".." segments and shell metacharacters in a
// relative browse/mkdir path, but (unlike validateFilename) allows "/" as a
// subdirectory separator.
func validateBrowsePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal rejected")
	}
	if strings.ContainsAny(path, shellMetacharacters) {
		return fmt.Errorf("invalid characters in path")
	}
	return nil
}

// resolveUnderPrefix joins rel onto prefix after validation, confirming the
// cleaned result still lives under prefix (belt-and-braces against a
// validated-but-absolute rel).
func resolveUnderPrefix(prefix, rel string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("no USB mount prefix configured")
	}
	if err := validateBrowsePath(rel); err != nil {
		return "", err
	}
	joined := filepath.Join(prefix, rel)
	cleanPrefix := filepath.Clean(prefix)
	if joined != cleanPrefix && !strings.HasPrefix(joined, cleanPrefix+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes usb mount prefix")
	}
	return joined, nil
}
