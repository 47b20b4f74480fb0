package tools

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Validation patterns for shell command safety.
var (
	shellMetachars     = regexp.MustCompile("[;&|`$<>]")
	controlChars       = regexp.MustCompile(`[\r\n]`)
	quoteChars         = regexp.MustCompile(`["']`)
	bareNamePattern    = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
	windowsDriveLetter = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
	shortOptionGlued   = regexp.MustCompile(`^-[A-Za-z](/|\\|[A-Za-z]:[\\/])`)
)

// Shell validation errors.
var (
	ErrEmptyCommand    = errors.New("command is empty")
	ErrUnsafeCommand   = errors.New("command contains unsafe characters")
	ErrUnsafeArgument  = errors.New("argument contains unsafe characters")
	ErrOutOfScopePath  = errors.New("path argument escapes the working directory")
	ErrInlineEval      = errors.New("inline code evaluation is not allowed")
	ErrDirectoryEscape = errors.New("directory is outside the working directory")
)

// interpreterEvalFlags maps interpreter base names to the flags that
// switch them into inline-eval mode.
var interpreterEvalFlags = map[string][]string{
	"sh":         {"-c"},
	"bash":       {"-c"},
	"zsh":        {"-c"},
	"dash":       {"-c"},
	"node":       {"-e", "--eval"},
	"python":     {"-c"},
	"python3":    {"-c"},
	"powershell": {"-command", "-c"},
	"pwsh":       {"-command", "-c"},
}

// validateCommand checks the executable name or path. Paths are allowed
// when free of injection characters; bare names must match the safe
// pattern and must not begin with a dash.
func validateCommand(command string) (string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", ErrEmptyCommand
	}
	if strings.Contains(trimmed, "\x00") ||
		controlChars.MatchString(trimmed) ||
		shellMetachars.MatchString(trimmed) ||
		quoteChars.MatchString(trimmed) {
		return "", ErrUnsafeCommand
	}
	if isLikelyPath(trimmed) {
		return trimmed, nil
	}
	if strings.HasPrefix(trimmed, "-") || !bareNamePattern.MatchString(trimmed) {
		return "", ErrUnsafeCommand
	}
	return trimmed, nil
}

func isLikelyPath(value string) bool {
	if value == "" {
		return false
	}
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}
	if strings.Contains(value, "/") || strings.Contains(value, "\\") {
		return true
	}
	return windowsDriveLetter.MatchString(value)
}

// resolveDirectory validates an optional directory argument against the
// trusted working directory: it must be the working directory itself or
// a subpath of it. Returns the directory to execute in.
func resolveDirectory(workingDir, directory string) (string, error) {
	if strings.TrimSpace(directory) == "" {
		return workingDir, nil
	}
	if !pathWithin(workingDir, directory) {
		return "", fmt.Errorf("%w: %s", ErrDirectoryEscape, directory)
	}
	return directory, nil
}

// validateArguments rejects injection characters and out-of-scope path
// arguments: absolute paths outside the working directory, relative
// paths escaping it via .., --flag=/abs values, and short-option-glued
// paths like -I/abs.
func validateArguments(workingDir string, args []string) error {
	for _, arg := range args {
		if strings.Contains(arg, "\x00") ||
			controlChars.MatchString(arg) ||
			shellMetachars.MatchString(arg) {
			return fmt.Errorf("%w: %q", ErrUnsafeArgument, arg)
		}
		if err := checkArgScope(workingDir, arg); err != nil {
			return err
		}
	}
	return nil
}

func checkArgScope(workingDir, arg string) error {
	// --flag=/abs/path carries the path after the equals sign.
	if strings.HasPrefix(arg, "--") {
		if _, value, found := strings.Cut(arg, "="); found {
			return checkPathValue(workingDir, value)
		}
		return nil
	}
	// Short option with a glued path, e.g. -I/usr/include.
	if shortOptionGlued.MatchString(arg) {
		return checkPathValue(workingDir, arg[2:])
	}
	if strings.HasPrefix(arg, "-") {
		return nil
	}
	return checkPathValue(workingDir, arg)
}

// checkPathValue rejects value when it is a path pointing outside the
// working directory. Non-path values pass.
func checkPathValue(workingDir, value string) error {
	if value == "" || !isLikelyPath(value) {
		return nil
	}
	if !pathWithin(workingDir, value) {
		return fmt.Errorf("%w: %s", ErrOutOfScopePath, value)
	}
	return nil
}

// pathWithin reports whether candidate resolves to workingDir or below
// it.
func pathWithin(workingDir, candidate string) bool {
	base, err := filepath.Abs(workingDir)
	if err != nil {
		return false
	}
	resolved := candidate
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// rejectInlineEval blocks interpreter invocations that smuggle code
// through eval flags, bypassing argument scoping.
func rejectInlineEval(command string, args []string) error {
	base := strings.ToLower(filepath.Base(command))
	base = strings.TrimSuffix(base, ".exe")
	flags, ok := interpreterEvalFlags[base]
	if !ok {
		return nil
	}
	for _, arg := range args {
		lowered := strings.ToLower(arg)
		for _, flag := range flags {
			if lowered == flag {
				return fmt.Errorf("%w: %s %s", ErrInlineEval, base, arg)
			}
		}
	}
	return nil
}
