package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

const (
	// ChatsDirName is the per-project subdirectory holding session files.
	ChatsDirName = "chats"
	// reservedDirName sits next to project directories but is not one.
	reservedDirName = "bin"

	sessionFileExt = ".json"
)

// DefaultSessionsDir returns ~/.gemini/tmp, or "" when the home directory
// cannot be resolved.
func DefaultSessionsDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".gemini", "tmp")
}

// ProjectDirs lists the project directories under root. A missing root
// yields ErrNotInstalled.
func ProjectDirs(root string) ([]string, error) {
	if strings.TrimSpace(root) == "" {
		return nil, ErrNotInstalled
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInstalled
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	return lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if !e.IsDir() || !IsProjectDirName(e.Name()) {
			return "", false
		}
		return filepath.Join(root, e.Name()), true
	}), nil
}

// IsProjectDirName reports whether a root-level entry name can be a project.
func IsProjectDirName(name string) bool {
	return name != "" && name != reservedDirName
}

func ChatsDir(projectDir string) string {
	return filepath.Join(projectDir, ChatsDirName)
}

// ListSessionFiles returns the absolute paths of the *.json regular files in
// chatsDir, in directory order.
func ListSessionFiles(chatsDir string) ([]string, error) {
	entries, err := os.ReadDir(chatsDir)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if !e.Type().IsRegular() || !IsSessionFileName(e.Name()) {
			return "", false
		}
		return filepath.Join(chatsDir, e.Name()), true
	}), nil
}

func IsSessionFileName(name string) bool {
	return strings.HasSuffix(name, sessionFileExt)
}

// SessionIDFromPath is the fallback session id: the file name without .json.
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), sessionFileExt)
}
