package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrInvalidOutputDir is returned for an unusable caller-chosen output folder.
var ErrInvalidOutputDir = errors.New("invalid output_dir")

// Device names Windows refuses as file stems regardless of extension.
var reservedStems = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeName turns a user supplied export name into a portable file stem
// of at most maxLen runes. It never returns an empty string.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
			continue
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(" -.,()", r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}

	stem := []rune(strings.Trim(b.String(), ". "))
	if maxLen > 0 && len(stem) > maxLen {
		stem = []rune(strings.TrimRight(string(stem[:maxLen]), ". "))
	}
	name := string(stem)
	if name == "" {
		return "export"
	}
	if reservedStems[strings.ToUpper(name)] {
		name += "_"
	}
	return name
}

// ValidateOutputDir checks that dir is an absolute, clean, existing and
// writable directory.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidOutputDir)
	}
	if !filepath.IsAbs(dir) {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidOutputDir, dir)
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("%w: path traversal", ErrInvalidOutputDir)
		}
	}
	if filepath.Clean(dir) != dir {
		return fmt.Errorf("%w: %q is not a clean path", ErrInvalidOutputDir, dir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %q does not exist", ErrInvalidOutputDir, dir)
		}
		return fmt.Errorf("%w: %v", ErrInvalidOutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalidOutputDir, dir)
	}

	probe, err := os.CreateTemp(dir, ".clipstudio-probe-*")
	if err != nil {
		return fmt.Errorf("%w: not writable: %v", ErrInvalidOutputDir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}
