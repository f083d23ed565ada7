package resource

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePackage creates a package directory with a manifest and the given source files.
func writePackage(t *testing.T, dir, manifest string, sources ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, SourceDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0644))
	for _, src := range sources {
		path := filepath.Join(dir, SourceDir, src)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("let x = 1\n"), 0644))
	}
}

func manifestFor(name string, extra ...string) string {
	return "name: " + name + "\nexports: []\n" + strings.Join(extra, "\n")
}

func TestScan_NestedPackages(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, manifestFor("Root"), "main.ml")
	writePackage(t, filepath.Join(root, PackagesDir, "B"), manifestFor("B"), "b.ml", "b.mli")
	writePackage(t, filepath.Join(root, PackagesDir, "C"), manifestFor("C"), "c.ml")
	writePackage(t, filepath.Join(root, PackagesDir, "B", PackagesDir, "A"), manifestFor("A"), "a.ml")
	writePackage(t, filepath.Join(root, PackagesDir, "C", PackagesDir, "A"), manifestFor("A"), "a.ml")

	tree, err := Scan(root)
	require.NoError(t, err)

	assert.Equal(t, "Root", tree.Root)
	assert.Equal(t, []string{"A", "B", "C", "Root"}, tree.Names())

	rootRes, ok := tree.Lookup("Root")
	require.True(t, ok)
	assert.Equal(t, []string{"B", "C"}, rootRes.Subpackages)

	b, _ := tree.Lookup("B")
	assert.Equal(t, []string{"A"}, b.Subpackages)
	require.Len(t, b.SourceFiles, 2)
	assert.Len(t, b.SourceMTimes, 2)
	assert.True(t, strings.HasSuffix(b.SourceFiles[0], "b.ml"))

	order := tree.Order()
	assert.Equal(t, "A", order[0])
	assert.Equal(t, "Root", order[len(order)-1])
}

func TestScan_DeclaredDependencyResolvesAcrossTree(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, manifestFor("Root"))
	writePackage(t, filepath.Join(root, PackagesDir, "A"), manifestFor("A"))
	writePackage(t, filepath.Join(root, PackagesDir, "B"), manifestFor("B", "dependencies: [A]"))

	tree, err := Scan(root)
	require.NoError(t, err)

	b, _ := tree.Lookup("B")
	assert.Equal(t, []string{"A"}, b.Subpackages)
	assert.Equal(t, []string{"A", "B", "Root"}, tree.Closure("Root"))
}

func TestScan_ValidationProblems(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, root string)
		contains string
	}{
		{
			name: "lowercase package name",
			setup: func(t *testing.T, root string) {
				writePackage(t, root, manifestFor("root"))
			},
			contains: "must start with an uppercase letter",
		},
		{
			name: "directory and name disagree",
			setup: func(t *testing.T, root string) {
				writePackage(t, root, manifestFor("Root"))
				writePackage(t, filepath.Join(root, PackagesDir, "Other"), manifestFor("Dep"))
			},
			contains: "does not match directory",
		},
		{
			name: "missing exports",
			setup: func(t *testing.T, root string) {
				writePackage(t, root, "name: Root\n")
			},
			contains: "exports must be declared",
		},
		{
			name: "debug flag in package flags",
			setup: func(t *testing.T, root string) {
				writePackage(t, root, manifestFor("Root", "compileFlags: -w -a -g"))
			},
			contains: "-g",
		},
		{
			name: "miscased key",
			setup: func(t *testing.T, root string) {
				writePackage(t, root, "name: Root\nexports: []\ncompileflags: -w\n")
			},
			contains: `should be spelled "compileFlags"`,
		},
		{
			name: "missing dependency",
			setup: func(t *testing.T, root string) {
				writePackage(t, root, manifestFor("Root", "dependencies: [Ghost]"))
			},
			contains: `non-existent package "Ghost"`,
		},
		{
			name: "dependency cycle",
			setup: func(t *testing.T, root string) {
				writePackage(t, root, manifestFor("Root"))
				writePackage(t, filepath.Join(root, PackagesDir, "A"), manifestFor("A", "dependencies: [B]"))
				writePackage(t, filepath.Join(root, PackagesDir, "B"), manifestFor("B", "dependencies: [A]"))
			},
			contains: "cycle",
		},
		{
			name: "missing manifest",
			setup: func(t *testing.T, root string) {
				writePackage(t, root, manifestFor("Root"))
				require.NoError(t, os.MkdirAll(filepath.Join(root, PackagesDir, "Empty"), 0755))
			},
			contains: "missing " + ManifestFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			tt.setup(t, root)

			_, err := Scan(root)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected *ValidationError, got %T", err)
			assert.Contains(t, verr.Error(), tt.contains)
		})
	}
}

func TestScan_SymlinkedSourceDirRejected(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, manifestFor("Root"), "main.ml")
	elsewhere := t.TempDir()
	require.NoError(t, os.Symlink(elsewhere, filepath.Join(root, SourceDir, "linked")))

	_, err := Scan(root)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Error(), "symlinked source directories")
}

func TestScan_MTimesTrackChanges(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, manifestFor("Root"), "main.ml")

	first, err := Scan(root)
	require.NoError(t, err)

	r, _ := first.Lookup("Root")
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(r.SourceFiles[0], later, later))

	second, err := Scan(root)
	require.NoError(t, err)
	r2, _ := second.Lookup("Root")

	assert.Equal(t, r.SourceFiles, r2.SourceFiles)
	assert.NotEqual(t, r.SourceMTimes[0], r2.SourceMTimes[0])
	assert.Equal(t, r.ConfigDigest, r2.ConfigDigest)
}

func TestScan_DigestFollowsManifest(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, manifestFor("Root", "compileFlags: -w -a"))
	first, err := Scan(root)
	require.NoError(t, err)

	writePackage(t, root, manifestFor("Root", "compileFlags: -w +a"))
	second, err := Scan(root)
	require.NoError(t, err)

	r1, _ := first.Lookup("Root")
	r2, _ := second.Lookup("Root")
	assert.NotEqual(t, r1.ConfigDigest, r2.ConfigDigest)
}
