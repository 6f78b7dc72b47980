package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

// PrepareOutputPath creates the parent directory and, unless overwrite is
// set, picks a fresh name when path already exists.
func PrepareOutputPath(path string, overwrite bool) (string, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("error creating output directory: %v", err)
		}
	}
	if overwrite {
		return path, nil
	}
	if _, err := os.Stat(path); err == nil {
		return RenewOutputPath(path), nil
	}
	return path, nil
}

// SplitHeaderArg splits "Name: value". An argument without a colon, or
// with nothing after it, is a name-only header.
func SplitHeaderArg(arg string) (name, value string, hasValue bool) {
	name, value, found := strings.Cut(arg, ":")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	return name, value, found && value != ""
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed == 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed
	formatted := FormatBytes(uint64(bps))
	return formatted[:len(formatted)-1] + "B/s"
}

// DefaultOutputName derives a file name from the last path segment of a
// target.
func DefaultOutputName(path string) string {
	path, _, _ = strings.Cut(path, "?")
	name := filepath.Base(strings.TrimRight(path, "/"))
	if name == "." || name == "/" || name == "" {
		return "download.bin"
	}
	return name
}
