// Package pathguard maps validated identifiers onto filesystem paths under a
// content root and certifies that every resolved path sits exactly one level
// below its expected parent.
//
// The guard is a second, independent line of defense: identifiers reaching it
// have already passed ident validation, yet the check is repeated on every
// call because the directory tree (and any symlinks in it) can change between
// calls. A failed check yields fserr.ErrContainmentViolation and the caller
// must abort.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	fserr "github.com/stjepano/filestore/internal/errors"
	"github.com/stjepano/filestore/internal/ident"
)

// Guard resolves identifiers relative to a fixed content root.
type Guard struct {
	root string
}

// New returns a Guard for root. The root is made absolute and must be an
// existing directory; this is the one-time startup precondition.
func New(root string) (*Guard, error) {
	if root == "" {
		return nil, fmt.Errorf("content root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving content root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("content root %q: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content root %q is not a directory", abs)
	}
	return &Guard{root: abs}, nil
}

// Root returns the absolute content root.
func (g *Guard) Root() string {
	return g.root
}

// BucketPath returns root/<bucket> without any checks.
func (g *Guard) BucketPath(id ident.BucketID) string {
	return filepath.Join(g.root, id.String())
}

// FilePath returns root/<bucket>/<file> without any checks.
func (g *Guard) FilePath(id ident.FileID) string {
	return filepath.Join(g.BucketPath(id.Bucket()), id.Name())
}

// ResolveBucket returns the bucket path after certifying that it lies
// directly under the content root.
func (g *Guard) ResolveBucket(id ident.BucketID) (string, error) {
	p := g.BucketPath(id)
	if err := g.CheckBucket(p); err != nil {
		return "", err
	}
	return p, nil
}

// ResolveFile returns the bucket and file paths after certifying the bucket
// against the root and the file against the bucket. The bucket directory
// must exist for the file check to be meaningful.
func (g *Guard) ResolveFile(id ident.FileID) (bucketPath, filePath string, err error) {
	bucketPath, err = g.ResolveBucket(id.Bucket())
	if err != nil {
		return "", "", err
	}
	filePath = g.FilePath(id)
	if err := Check(bucketPath, filePath); err != nil {
		return "", "", err
	}
	return bucketPath, filePath, nil
}

// CheckBucket certifies p as a direct child of the content root.
func (g *Guard) CheckBucket(p string) error {
	return Check(g.root, p)
}

// CheckFile certifies bucketPath against the root and filePath against
// bucketPath.
func (g *Guard) CheckFile(bucketPath, filePath string) error {
	if err := g.CheckBucket(bucketPath); err != nil {
		return err
	}
	return Check(bucketPath, filePath)
}

// Check certifies that p is a direct child of parent, comparing filesystem
// identity rather than strings: the lexical parent of p is canonicalized
// (symlinks and dot segments resolved) and must be the same file as parent.
// If p already exists as a symlink, its target must also live directly in
// parent. p itself need not exist.
func Check(parent, p string) error {
	lexicalParent := filepath.Dir(filepath.Clean(p))
	if err := sameDir(parent, lexicalParent); err != nil {
		return violation(p, parent, err)
	}

	info, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return violation(p, parent, err)
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return nil
	}

	target, err := filepath.EvalSymlinks(p)
	if err != nil {
		return violation(p, parent, err)
	}
	if err := sameDir(parent, filepath.Dir(target)); err != nil {
		return violation(p, parent, err)
	}
	return nil
}

// sameDir reports a non-nil error unless a and b name the same directory.
func sameDir(a, b string) error {
	canonA, err := filepath.EvalSymlinks(a)
	if err != nil {
		return err
	}
	canonB, err := filepath.EvalSymlinks(b)
	if err != nil {
		return err
	}
	infoA, err := os.Stat(canonA)
	if err != nil {
		return err
	}
	infoB, err := os.Stat(canonB)
	if err != nil {
		return err
	}
	if !os.SameFile(infoA, infoB) {
		return fmt.Errorf("%q is not %q", canonB, canonA)
	}
	return nil
}

func violation(p, parent string, cause error) error {
	return fserr.Wrap(fserr.KindContainmentViolation,
		fmt.Sprintf("%q is not directly under %q", p, parent), cause)
}
