package tools

import (
	"errors"
	"testing"
)

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wantErr bool
	}{
		{"bare name", "ls", false},
		{"name with dots", "python3.11", false},
		{"relative path", "./bin/tool", false},
		{"absolute path", "/usr/bin/git", false},
		{"empty", "  ", true},
		{"semicolon injection", "ls; rm -rf /", true},
		{"pipe", "cat|sh", true},
		{"backtick", "echo `id`", true},
		{"dollar", "echo $HOME", true},
		{"newline", "ls\nrm", true},
		{"quote", `echo "hi"`, true},
		{"leading dash", "-rf", true},
		{"null byte", "ls\x00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateCommand(tt.command)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCommand(%q) err = %v, wantErr %v", tt.command, err, tt.wantErr)
			}
		})
	}
}

func TestResolveDirectory(t *testing.T) {
	wd := t.TempDir()

	got, err := resolveDirectory(wd, "")
	if err != nil || got != wd {
		t.Fatalf("empty directory = (%q, %v), want working dir", got, err)
	}
	if _, err := resolveDirectory(wd, wd); err != nil {
		t.Errorf("working dir itself rejected: %v", err)
	}
	if _, err := resolveDirectory(wd, "sub/dir"); err != nil {
		t.Errorf("relative subpath rejected: %v", err)
	}
	if _, err := resolveDirectory(wd, "/etc"); !errors.Is(err, ErrDirectoryEscape) {
		t.Errorf("absolute escape err = %v, want ErrDirectoryEscape", err)
	}
	if _, err := resolveDirectory(wd, "../outside"); !errors.Is(err, ErrDirectoryEscape) {
		t.Errorf("relative escape err = %v, want ErrDirectoryEscape", err)
	}
}

func TestValidateArguments(t *testing.T) {
	wd := t.TempDir()
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"plain args", []string{"-la", "--color=auto", "README.md"}, nil},
		{"relative subpath", []string{"src/main.go"}, nil},
		{"dot dir", []string{"."}, nil},
		{"metachar", []string{"a;b"}, ErrUnsafeArgument},
		{"newline", []string{"a\nb"}, ErrUnsafeArgument},
		{"dotdot escape", []string{"../../etc/passwd"}, ErrOutOfScopePath},
		{"absolute outside", []string{"/etc/passwd"}, ErrOutOfScopePath},
		{"long flag with abs path", []string{"--config=/etc/app.conf"}, ErrOutOfScopePath},
		{"short option glued path", []string{"-I/usr/include"}, ErrOutOfScopePath},
		{"bare flag ok", []string{"--verbose"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateArguments(wd, tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validateArguments(%v) = %v, want %v", tt.args, err, tt.wantErr)
			}
		})
	}

	t.Run("absolute inside working dir", func(t *testing.T) {
		if err := validateArguments(wd, []string{wd + "/file.txt"}); err != nil {
			t.Errorf("in-scope absolute path rejected: %v", err)
		}
	})
}

func TestRejectInlineEval(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		wantErr bool
	}{
		{"sh -c", "sh", []string{"-c", "ls"}, true},
		{"bash -c", "/bin/bash", []string{"-c", "ls"}, true},
		{"node -e", "node", []string{"-e", "1"}, true},
		{"node --eval", "node", []string{"--eval", "1"}, true},
		{"python -c", "python3", []string{"-c", "print(1)"}, true},
		{"powershell -Command", "powershell.exe", []string{"-Command", "dir"}, true},
		{"bash script", "bash", []string{"run.sh"}, false},
		{"python script", "python3", []string{"script.py"}, false},
		{"non-interpreter", "grep", []string{"-c", "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rejectInlineEval(tt.command, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("rejectInlineEval(%q, %v) = %v, wantErr %v", tt.command, tt.args, err, tt.wantErr)
			}
		})
	}
}
