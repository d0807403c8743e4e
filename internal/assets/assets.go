// Package assets embeds the internal deployment files a project needs:
// the build/test recipe, the release recipe and the remote upgrade script.
//
// Bootstrap copies them into a new project; the staging workspace overlays
// them onto the mirrored tree so the pipeline can run even when the project
// has no internals/ directory of its own.
package assets

import (
	"embed"
	"io/fs"
	"path"
)

//go:embed internals
var files embed.FS

// Paths of the embedded files, relative to the project root.
const (
	BuildRecipe   = "internals/docker/Dockerfile-js"
	ReleaseRecipe = "internals/docker/Dockerfile-nginx"
	UpgradeScript = "internals/docker/image-upgrade.sh"
)

// FS returns the embedded files rooted at the project root, so entries are
// addressed as internals/docker/...
func FS() fs.FS {
	return files
}

// Files lists every embedded file path in walk order.
func Files() ([]string, error) {
	var out []string
	err := fs.WalkDir(files, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// Mode returns the file mode to use when writing an embedded file to disk.
// Shell scripts are executable.
func Mode(p string) fs.FileMode {
	if path.Ext(p) == ".sh" {
		return 0755
	}
	return 0644
}
