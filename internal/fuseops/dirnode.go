package fuseops

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ffbox/ffbox/internal/manifest"
)

// DirectoryNode represents a materialized (or about-to-be-materialized)
// directory. All structural mutation (Mkdir, Create, Rmdir, Unlink,
// Rename, Symlink) is local-only against the cache tree: this mount
// never pushes writes back to the object store, unlike the teacher's
// Mkdir/Create which called backend.PutObject directly.
type DirectoryNode struct {
	fs.Inode

	fsys *FileSystem
	path string
}

var _ fs.InodeEmbedder = (*DirectoryNode)(nil)
var _ fs.NodeLookuper = (*DirectoryNode)(nil)
var _ fs.NodeReaddirer = (*DirectoryNode)(nil)
var _ fs.NodeGetattrer = (*DirectoryNode)(nil)
var _ fs.NodeMkdirer = (*DirectoryNode)(nil)
var _ fs.NodeCreater = (*DirectoryNode)(nil)
var _ fs.NodeRmdirer = (*DirectoryNode)(nil)
var _ fs.NodeUnlinker = (*DirectoryNode)(nil)
var _ fs.NodeRenamer = (*DirectoryNode)(nil)
var _ fs.NodeSymlinker = (*DirectoryNode)(nil)

func (n *DirectoryNode) childPath(name string) string {
	return joinPath(n.path, name)
}

func fillAttrFromStat(info os.FileInfo, out *fuse.Attr) {
	out.Mode = safeIntToUint32(int(info.Mode().Perm()))
	if info.IsDir() {
		out.Mode |= fuse.S_IFDIR
	} else if info.Mode()&os.ModeSymlink != 0 {
		out.Mode |= fuse.S_IFLNK
	} else {
		out.Mode |= fuse.S_IFREG
	}
	out.Size = safeInt64ToUint64(info.Size())
	mtime := info.ModTime()
	out.SetTimes(nil, &mtime, nil)
}

// Lookup materializes the parent directory if needed, then stats the
// child on the local cache tree to decide its node type.
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	defer func() { n.fsys.stats.recordLookup(time.Since(start)) }()

	if name == manifest.FileName {
		return nil, syscall.ENOENT
	}
	if errno := n.fsys.ensureMaterialized(ctx, n.path); errno != 0 {
		n.fsys.stats.incr(&n.fsys.stats.Errors)
		n.fsys.recordMetric("lookup", time.Since(start), 0, false)
		return nil, errno
	}

	childPath := n.childPath(name)
	info, err := os.Lstat(n.fsys.cache.FullPath(childPath))
	if err != nil {
		n.fsys.recordMetric("lookup", time.Since(start), 0, false)
		return nil, syscall.ENOENT
	}

	fillAttrFromStat(info, &out.Attr)

	var child fs.InodeEmbedder
	var mode uint32
	if info.IsDir() {
		child = &DirectoryNode{fsys: n.fsys, path: childPath}
		mode = fuse.S_IFDIR
	} else {
		child = &FileNode{fsys: n.fsys, path: childPath}
		mode = fuse.S_IFREG
	}

	childInode := n.NewInode(ctx, child, fs.StableAttr{Mode: mode})
	n.fsys.recordMetric("lookup", time.Since(start), 0, true)
	return childInode, 0
}

// Getattr reports this directory's local stat. It does not materialize
// the directory; Lookup and Readdir do that.
func (n *DirectoryNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := os.Lstat(n.fsys.cache.FullPath(n.path))
	if err != nil {
		return syscall.ENOENT
	}
	fillAttrFromStat(info, &out.Attr)
	return 0
}

// Readdir materializes this directory's children from the manifest or
// a LIST, then streams the locally cached entries, skipping the
// reserved manifest file.
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	start := time.Now()
	if errno := n.fsys.ensureMaterialized(ctx, n.path); errno != 0 {
		n.fsys.stats.incr(&n.fsys.stats.Errors)
		n.fsys.recordMetric("readdir", time.Since(start), 0, false)
		return nil, errno
	}

	entries, err := os.ReadDir(n.fsys.cache.FullPath(n.path))
	if err != nil {
		n.fsys.recordMetric("readdir", time.Since(start), 0, false)
		return nil, syscall.ENOENT
	}

	var result []fuse.DirEntry
	for _, e := range entries {
		if e.Name() == manifest.FileName {
			continue
		}
		mode := fuse.S_IFREG
		if e.IsDir() {
			mode = fuse.S_IFDIR
		}
		result = append(result, fuse.DirEntry{Name: e.Name(), Mode: uint32(mode)})
	}

	n.fsys.recordMetric("readdir", time.Since(start), 0, true)
	return fs.NewListDirStream(result), 0
}

// Mkdir creates a directory on the local cache tree only. It is marked
// complete immediately since a freshly created directory has no
// remote children to materialize.
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}
	childPath := n.childPath(name)
	full := n.fsys.cache.FullPath(childPath)
	if err := os.Mkdir(full, os.FileMode(mode&0o777)); err != nil {
		if os.IsExist(err) {
			return nil, syscall.EEXIST
		}
		return nil, syscall.EIO
	}
	if err := n.fsys.cache.MarkComplete(childPath); err != nil {
		return nil, syscall.EIO
	}

	info, err := os.Lstat(full)
	if err != nil {
		return nil, syscall.EIO
	}
	fillAttrFromStat(info, &out.Attr)

	child := &DirectoryNode{fsys: n.fsys, path: childPath}
	n.fsys.stats.incr(&n.fsys.stats.Creates)
	n.fsys.recordMetric("mkdir", 0, 0, true)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

// Create makes a new regular file on the local cache tree only and
// marks it complete (there is nothing remote to fetch for a file this
// mount just created).
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	childPath := n.childPath(name)
	full := n.fsys.cache.FullPath(childPath)

	f, err := os.OpenFile(full, int(flags)|os.O_CREATE, os.FileMode(mode&0o777))
	if err != nil {
		return nil, nil, 0, syscall.EIO
	}
	if err := n.fsys.cache.MarkComplete(childPath); err != nil {
		f.Close()
		return nil, nil, 0, syscall.EIO
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, 0, syscall.EIO
	}
	fillAttrFromStat(info, &out.Attr)

	child := &FileNode{fsys: n.fsys, path: childPath}
	childInode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG})
	handle := &FileHandle{fsys: n.fsys, path: childPath, localFile: f}
	n.fsys.stats.incr(&n.fsys.stats.Creates)
	n.fsys.recordMetric("create", 0, 0, true)
	return childInode, handle, 0, 0
}

// Rmdir removes an empty local directory.
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	childPath := n.childPath(name)
	if err := os.Remove(n.fsys.cache.FullPath(childPath)); err != nil {
		if os.IsNotExist(err) {
			return syscall.ENOENT
		}
		return syscall.EIO
	}
	n.fsys.stats.incr(&n.fsys.stats.Deletes)
	n.fsys.recordMetric("rmdir", 0, 0, true)
	return 0
}

// Unlink removes a local file.
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	childPath := n.childPath(name)
	if err := os.Remove(n.fsys.cache.FullPath(childPath)); err != nil {
		if os.IsNotExist(err) {
			return syscall.ENOENT
		}
		return syscall.EIO
	}
	n.fsys.stats.incr(&n.fsys.stats.Deletes)
	n.fsys.recordMetric("unlink", 0, 0, true)
	return 0
}

// Rename moves an entry within the local cache tree.
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	dst, ok := newParent.(*DirectoryNode)
	if !ok {
		return syscall.EINVAL
	}
	oldFull := n.fsys.cache.FullPath(n.childPath(name))
	newFull := n.fsys.cache.FullPath(dst.childPath(newName))
	if err := os.Rename(oldFull, newFull); err != nil {
		return syscall.EIO
	}
	n.fsys.recordMetric("rename", 0, 0, true)
	return 0
}

// Symlink creates a local symlink, local-only with no translation
// across the placeholder/real boundary.
func (n *DirectoryNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}
	childPath := n.childPath(name)
	full := n.fsys.cache.FullPath(childPath)
	if err := os.Symlink(target, full); err != nil {
		return nil, syscall.EIO
	}
	if err := n.fsys.cache.MarkComplete(childPath); err != nil {
		return nil, syscall.EIO
	}

	info, err := os.Lstat(full)
	if err != nil {
		return nil, syscall.EIO
	}
	fillAttrFromStat(info, &out.Attr)

	child := &FileNode{fsys: n.fsys, path: childPath}
	n.fsys.stats.incr(&n.fsys.stats.Creates)
	n.fsys.recordMetric("symlink", 0, 0, true)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFLNK}), 0
}
