package secureread

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepreason/gateway/internal/reasonerr"
)

func newTestReader(t *testing.T) (*Reader, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main_test.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.env"), []byte("KEY=1"), 0o644))
	r, err := New(root)
	require.NoError(t, err)
	return r, root
}

func TestReadWithinRootSucceeds(t *testing.T) {
	r, _ := newTestReader(t)
	data, err := r.Read("main.go")
	require.NoError(t, err)
	require.Contains(t, string(data), "package main")
}

func TestReadRejectsPathTraversal(t *testing.T) {
	r, _ := newTestReader(t)
	_, err := r.Read("../outside")
	require.Error(t, err)

	var classified *reasonerr.Error
	require.True(t, errors.As(err, &classified))
	require.Equal(t, reasonerr.PathTraversal, classified.Classification().Code)
}

func TestReadRejectsDisallowedExtension(t *testing.T) {
	r, _ := newTestReader(t)
	_, err := r.Read("secret.env")
	require.Error(t, err)
	var classified *reasonerr.Error
	require.True(t, errors.As(err, &classified))
	require.Equal(t, reasonerr.InvalidFileType, classified.Classification().Code)
}

func TestReadRejectsOversizedFile(t *testing.T) {
	r, root := newTestReader(t)
	big := make([]byte, maxFileSize+1)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), big, 0o644))

	_, err := r.Read("big.go")
	require.Error(t, err)
	var classified *reasonerr.Error
	require.True(t, errors.As(err, &classified))
	require.Equal(t, reasonerr.FileTooLarge, classified.Classification().Code)
}

func TestReadRejectsDirectory(t *testing.T) {
	r, root := newTestReader(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "subdir.go"), 0o755))

	_, err := r.Read("subdir.go")
	require.Error(t, err)
}

func TestReadCachesContent(t *testing.T) {
	r, root := newTestReader(t)
	first, err := r.Read("main.go")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("mutated"), 0o644))

	second, err := r.Read("main.go")
	require.NoError(t, err)
	require.Equal(t, first, second, "cached read must not observe the mutation")

	r.ClearCache()
	third, err := r.Read("main.go")
	require.NoError(t, err)
	require.Equal(t, "mutated", string(third))
}

func TestFindRelatedFindsTestSibling(t *testing.T) {
	r, _ := newTestReader(t)
	related, err := r.FindRelated("main.go")
	require.NoError(t, err)

	var found bool
	for _, p := range related {
		if strings.HasSuffix(p, "main_test.go") {
			found = true
		}
	}
	require.True(t, found)
}

func TestLinesReturnsWindow(t *testing.T) {
	root := t.TempDir()
	body := "l1\nl2\nl3\nl4\nl5\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.go"), []byte(body), 0o644))
	r, err := New(root)
	require.NoError(t, err)

	lines, start, end, err := r.Lines("f.go", 3, 1)
	require.NoError(t, err)
	require.Equal(t, 2, start)
	require.Equal(t, 4, end)
	require.Equal(t, []string{"l2", "l3", "l4"}, lines)
}
