package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rack-go/internal/rack"
)

func makeProject(t *testing.T, root string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, DirName), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, DirName, ConfigFileName), nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFindRoot(t *testing.T) {
	t.Run("walks upward", func(t *testing.T) {
		t.Setenv(ProjectEnv, "")
		root := t.TempDir()
		makeProject(t, root)
		deep := filepath.Join(root, "a", "b", "c")
		if err := os.MkdirAll(deep, 0755); err != nil {
			t.Fatal(err)
		}

		got, err := FindRoot(deep)
		if err != nil {
			t.Fatalf("FindRoot() error = %v", err)
		}
		if got != root {
			t.Errorf("FindRoot() = %q, want %q", got, root)
		}
	})

	t.Run("nearest project wins", func(t *testing.T) {
		t.Setenv(ProjectEnv, "")
		outer := t.TempDir()
		makeProject(t, outer)
		inner := filepath.Join(outer, "nested")
		makeProject(t, inner)

		got, err := FindRoot(inner)
		if err != nil {
			t.Fatalf("FindRoot() error = %v", err)
		}
		if got != inner {
			t.Errorf("FindRoot() = %q, want %q", got, inner)
		}
	})

	t.Run("rack directory without config is not a project", func(t *testing.T) {
		t.Setenv(ProjectEnv, "")
		root := t.TempDir()
		if err := os.MkdirAll(filepath.Join(root, DirName), 0755); err != nil {
			t.Fatal(err)
		}

		if _, err := FindRoot(root); !errors.Is(err, rack.ErrConfig) {
			t.Errorf("FindRoot() error = %v, want ErrConfig", err)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		root := t.TempDir()
		makeProject(t, root)
		t.Setenv(ProjectEnv, root)

		got, err := FindRoot(t.TempDir())
		if err != nil {
			t.Fatalf("FindRoot() error = %v", err)
		}
		if got != root {
			t.Errorf("FindRoot() = %q, want %q", got, root)
		}
	})

	t.Run("environment override must be a project", func(t *testing.T) {
		t.Setenv(ProjectEnv, t.TempDir())

		if _, err := FindRoot("."); !errors.Is(err, rack.ErrConfig) {
			t.Errorf("FindRoot() error = %v, want ErrConfig", err)
		}
	})
}

func TestPaths(t *testing.T) {
	p := NewPaths("/work/proj")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "config", got: p.Config, want: filepath.Join("/work/proj", ".rack", "rack.toml")},
		{name: "store", got: p.Store, want: filepath.Join("/work/proj", ".rack", "store")},
		{name: "index", got: p.Index, want: filepath.Join("/work/proj", ".rack", "store", "index.json")},
		{name: "history", got: p.History, want: filepath.Join("/work/proj", ".rack", "history.db")},
		{name: "log dir", got: p.LogDir, want: filepath.Join("/work/proj", ".rack", "log")},
		{name: "resolve relative", got: p.Resolve("logs-debug"), want: filepath.Join("/work/proj", "logs-debug")},
		{name: "resolve absolute", got: p.Resolve("/var/log"), want: "/var/log"},
		{name: "resolve empty", got: p.Resolve(""), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
