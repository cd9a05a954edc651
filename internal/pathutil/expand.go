package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and "~/" home shortcuts.
// An empty path stays empty.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	rest, tilde := strings.CutPrefix(expanded, "~")
	if tilde && (rest == "" || strings.HasPrefix(rest, "/")) {
		home, err := HomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(rest, "/"))
	}

	return filepath.Clean(expanded), nil
}

// HomeDir returns the first fully resolved home directory from the OS, the
// current user record, or $HOME.
func HomeDir() (string, error) {
	candidates := []func() string{
		func() string { h, _ := os.UserHomeDir(); return h },
		func() string {
			if u, err := user.Current(); err == nil {
				return u.HomeDir
			}
			return ""
		},
		func() string { return os.Getenv("HOME") },
	}

	for _, next := range candidates {
		if home := strings.TrimSpace(next()); resolved(home) {
			return home, nil
		}
	}
	return "", fmt.Errorf("home directory is not set or not resolved")
}

func resolved(home string) bool {
	return home != "" && home != "~" && !strings.HasPrefix(home, "~/")
}
