package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// GlobalDirs returns the user-level skill directories.
func GlobalDirs() []string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return nil
	}
	return []string{
		filepath.Join(home, ".agents", "skills"),
		filepath.Join(home, ".codex", "skills"),
	}
}

// ProjectDirs returns the project-local skill directories under root.
func ProjectDirs(root string) []string {
	if root == "" {
		return nil
	}
	return []string{
		filepath.Join(root, ".agents", "skills"),
		filepath.Join(root, "skills"),
	}
}

// scanDir reads one skill directory: each subdirectory containing a
// SKILL.md is a candidate skill. Unparseable entries are logged and
// skipped, never fatal.
func scanDir(ctx context.Context, dir string, scope Scope, logger *slog.Logger) ([]*Skill, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat skills dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var found []*Skill
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}
		if !entry.IsDir() {
			continue
		}

		skillFile := filepath.Join(dir, entry.Name(), SkillFilename)
		if _, err := os.Stat(skillFile); os.IsNotExist(err) {
			continue
		}
		skill, err := ParseFile(skillFile)
		if err != nil {
			logger.Warn("skipping invalid skill", "path", skillFile, "error", err)
			continue
		}
		skill.Scope = scope
		found = append(found, skill)
		logger.Debug("discovered skill", "id", skill.ID, "scope", scope, "path", skill.Path)
	}
	return found, nil
}

// scopeEnabled reads a scope toggle environment variable. Unset means
// enabled.
func scopeEnabled(envVar string) bool {
	val, ok := os.LookupEnv(envVar)
	if !ok {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}

// disabledSet parses a comma-separated disable list environment variable.
func disabledSet(envVar string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, id := range strings.Split(os.Getenv(envVar), ",") {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}
