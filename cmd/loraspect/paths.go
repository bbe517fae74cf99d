package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// stderrIsTTY is a seam for tests.
var stderrIsTTY = func() bool { return isTTY(os.Stderr) }

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// resolveAdapterPath cleans a --file argument and checks it names a regular
// file.
func resolveAdapterPath(flag string) (string, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return "", fmt.Errorf("--file is required")
	}
	path := filepath.Clean(expandHome(flag))
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

func isTTY(f *os.File) bool {
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
