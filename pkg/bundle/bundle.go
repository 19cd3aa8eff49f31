// Package bundle inspects .app bundles on disk: identity from
// Info.plist and a content digest over the whole bundle tree.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"howett.net/plist"

	"github.com/devicelab-dev/simkeeper/pkg/core"
)

// App identifies a candidate application bundle. Immutable once
// constructed; the digest is computed at Open time.
type App struct {
	Path       string // bundle directory, e.g. /build/MyApp.app
	Identifier string // CFBundleIdentifier
	Executable string // CFBundleExecutable
	Digest     string // sha256 over the bundle tree
}

// Info holds the Info.plist keys we care about.
type Info struct {
	Identifier string `plist:"CFBundleIdentifier"`
	Executable string `plist:"CFBundleExecutable"`
}

// Open reads a bundle's Info.plist and digests its tree. Fails with an
// input error if path is not a valid app bundle.
func Open(path string) (*App, error) {
	info, err := ReadInfoPlist(filepath.Join(path, "Info.plist"))
	if err != nil {
		return nil, core.ErrInvalidBundle.WithMessage(
			fmt.Sprintf("%s is not a valid app bundle", path)).WithCause(err)
	}
	if info.Identifier == "" {
		return nil, core.ErrInvalidBundle.WithMessage(
			fmt.Sprintf("%s has no CFBundleIdentifier", path))
	}

	digest, err := DirDigest(path)
	if err != nil {
		return nil, err
	}

	return &App{
		Path:       path,
		Identifier: info.Identifier,
		Executable: info.Executable,
		Digest:     digest,
	}, nil
}

// ReadInfoPlist parses the identity keys out of an Info.plist, in
// either XML or binary form.
func ReadInfoPlist(path string) (*Info, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- bundle path comes from the caller
	if err != nil {
		return nil, err
	}

	var info Info
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &info, nil
}

// DirDigest computes a sha256 digest over a directory tree: relative
// paths and file contents, in lexical walk order. Two trees with equal
// digests have identical content regardless of timestamps or location.
func DirDigest(root string) (string, error) {
	h := sha256.New()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\x00", rel)

		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(h, "%s\x00", target)
			return nil
		}

		f, err := os.Open(path) //#nosec G304 -- walking a caller-provided tree
		if err != nil {
			return err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "\x00")
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", root, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
