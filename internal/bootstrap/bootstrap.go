// Package bootstrap prepares a JavaScript project for alorg deployments.
//
// [Seed] adds a deploy script to package.json, writes a starter alorg.json
// derived from the package name, and copies the internal build recipes and
// upgrade script into the project. Existing alorg.json and recipe files are
// left alone, so running bootstrap twice is safe.
package bootstrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"alorg/internal/assets"
	"alorg/internal/descriptor"
)

// BaseRegistry is the registry written into new descriptors.
const BaseRegistry = "theopertore/alorg"

// DeployScript is the package.json script entry added by [Seed].
const DeployScript = "alorg deploy"

// ServerDomain is appended to the package name to form the default server.
const ServerDomain = "alorg.net"

// ErrNoPackageName is returned when package.json has no usable name.
var ErrNoPackageName = errors.New("package.json has no name")

// Report lists what [Seed] changed.
type Report struct {
	// PackageName is the name read from package.json.
	PackageName string

	// Created holds project-relative paths that were written.
	Created []string

	// Skipped holds project-relative paths that already existed.
	Skipped []string
}

// Seed bootstraps the project rooted at dir.
func Seed(dir string) (*Report, error) {
	pkgPath := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}

	pkg, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}

	name, err := packageName(pkg)
	if err != nil {
		return nil, err
	}
	report := &Report{PackageName: name}

	pkg, err = addDeployScript(pkg)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(pkgPath)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(pkgPath, encodeObject(pkg), info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("failed to write package.json: %w", err)
	}

	if err := writeDescriptor(dir, name, report); err != nil {
		return nil, err
	}

	if err := copyAssets(dir, report); err != nil {
		return nil, err
	}

	return report, nil
}

// NewDescriptor returns the starter descriptor for a package name.
func NewDescriptor(name string) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Name:     name,
		Registry: BaseRegistry,
		Tag:      name,
		Servers:  []string{fmt.Sprintf("root@%s.%s", name, ServerDomain)},
	}
}

func packageName(pkg []member) (string, error) {
	raw, ok := lookup(pkg, "name")
	if !ok {
		return "", ErrNoPackageName
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil || name == "" {
		return "", ErrNoPackageName
	}
	return name, nil
}

func addDeployScript(pkg []member) ([]member, error) {
	var scripts []member
	if raw, ok := lookup(pkg, "scripts"); ok && string(raw) != "null" {
		var err error
		scripts, err = decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("package.json scripts: %w", err)
		}
	}

	value, err := json.Marshal(DeployScript)
	if err != nil {
		return nil, err
	}
	scripts = set(scripts, "deploy", value)
	return set(pkg, "scripts", compactObject(scripts)), nil
}

func writeDescriptor(dir, name string, report *Report) error {
	const rel = "alorg.json"
	path := filepath.Join(dir, rel)
	if _, err := os.Lstat(path); err == nil {
		report.Skipped = append(report.Skipped, rel)
		return nil
	}

	data, err := json.MarshalIndent(NewDescriptor(name), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal alorg.json: %w", err)
	}
	if err := writeFileAtomic(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write alorg.json: %w", err)
	}
	report.Created = append(report.Created, rel)
	return nil
}

func copyAssets(dir string, report *Report) error {
	files, err := assets.Files()
	if err != nil {
		return err
	}
	for _, rel := range files {
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Lstat(dst); err == nil {
			report.Skipped = append(report.Skipped, rel)
			continue
		}

		data, err := fs.ReadFile(assets.FS(), rel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(rel), err)
		}
		if err := writeFileAtomic(dst, data, assets.Mode(rel)); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
		report.Created = append(report.Created, rel)
	}
	return nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte, mode fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tmpPath)
		return err
	}
	return nil
}
