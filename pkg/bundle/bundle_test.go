package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const infoPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>%s</string>
	<key>CFBundleExecutable</key>
	<string>%s</string>
</dict>
</plist>
`

// writeAppBundle creates a minimal .app directory under dir.
func writeAppBundle(t *testing.T, dir, name, bundleID, executable string) string {
	t.Helper()
	appDir := filepath.Join(dir, name+".app")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		t.Fatal(err)
	}
	info := fmt.Sprintf(infoPlistTemplate, bundleID, executable)
	if err := os.WriteFile(filepath.Join(appDir, "Info.plist"), []byte(info), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(appDir, executable), []byte("binary-"+name), 0755); err != nil {
		t.Fatal(err)
	}
	return appDir
}

func TestOpen(t *testing.T) {
	appDir := writeAppBundle(t, t.TempDir(), "MyApp", "com.example.myapp", "MyApp")

	app, err := Open(appDir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if app.Identifier != "com.example.myapp" {
		t.Errorf("Identifier = %q, want com.example.myapp", app.Identifier)
	}
	if app.Executable != "MyApp" {
		t.Errorf("Executable = %q, want MyApp", app.Executable)
	}
	if app.Digest == "" {
		t.Error("Digest is empty")
	}
	if app.Path != appDir {
		t.Errorf("Path = %q, want %q", app.Path, appDir)
	}
}

func TestOpen_NotABundle(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Error("Open() on a dir without Info.plist: error = nil, want input error")
	}
}

func TestOpen_MissingIdentifier(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "Broken.app")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		t.Fatal(err)
	}
	info := fmt.Sprintf(infoPlistTemplate, "", "Broken")
	if err := os.WriteFile(filepath.Join(appDir, "Info.plist"), []byte(info), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(appDir); err == nil {
		t.Error("Open() with empty CFBundleIdentifier: error = nil, want input error")
	}
}

func TestDirDigest_ContentEquality(t *testing.T) {
	dir := t.TempDir()
	// Same content at different paths digests identically.
	a := writeAppBundle(t, filepath.Join(dir, "a"), "MyApp", "com.example.myapp", "MyApp")
	b := writeAppBundle(t, filepath.Join(dir, "b"), "MyApp", "com.example.myapp", "MyApp")

	da, err := DirDigest(a)
	if err != nil {
		t.Fatal(err)
	}
	db, err := DirDigest(b)
	if err != nil {
		t.Fatal(err)
	}
	if da != db {
		t.Errorf("digests differ for identical trees: %s vs %s", da, db)
	}
}

func TestDirDigest_DetectsChanges(t *testing.T) {
	dir := t.TempDir()
	appDir := writeAppBundle(t, dir, "MyApp", "com.example.myapp", "MyApp")

	before, err := DirDigest(appDir)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("content change", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(appDir, "MyApp"), []byte("rebuilt"), 0755); err != nil {
			t.Fatal(err)
		}
		after, err := DirDigest(appDir)
		if err != nil {
			t.Fatal(err)
		}
		if after == before {
			t.Error("digest unchanged after binary content change")
		}
	})

	t.Run("added file", func(t *testing.T) {
		prev, _ := DirDigest(appDir)
		if err := os.WriteFile(filepath.Join(appDir, "extra.txt"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		after, err := DirDigest(appDir)
		if err != nil {
			t.Fatal(err)
		}
		if after == prev {
			t.Error("digest unchanged after adding a file")
		}
	})
}

func TestReadInfoPlist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Info.plist")
	info := fmt.Sprintf(infoPlistTemplate, "com.example.other", "Other")
	if err := os.WriteFile(path, []byte(info), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadInfoPlist(path)
	if err != nil {
		t.Fatalf("ReadInfoPlist() error = %v", err)
	}
	if got.Identifier != "com.example.other" || got.Executable != "Other" {
		t.Errorf("ReadInfoPlist() = %+v", got)
	}
}
