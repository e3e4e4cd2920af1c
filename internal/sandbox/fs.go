package sandbox

import (
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"

	"github.com/websoft9/sftpdesk/internal/fileutil"
)

// rootFS implements the pkg/sftp request-server handlers on top of a local
// directory. Every client path is resolved inside root.
type rootFS struct {
	root string
}

func newRootHandlers(root string) sftp.Handlers {
	fs := &rootFS{root: root}
	return sftp.Handlers{
		FileGet:  fs,
		FilePut:  fs,
		FileCmd:  fs,
		FileList: fs,
	}
}

func (fs *rootFS) resolve(p string) (string, error) {
	abs, err := fileutil.ResolveSafePath(fs.root, p)
	if err != nil {
		return "", os.ErrPermission
	}
	return abs, nil
}

func (fs *rootFS) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	p, err := fs.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (fs *rootFS) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	p, err := fs.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}

	flags := os.O_WRONLY
	pflags := r.Pflags()
	if pflags.Read {
		flags = os.O_RDWR
	}
	if pflags.Creat {
		flags |= os.O_CREATE
	}
	if pflags.Trunc {
		flags |= os.O_TRUNC
	}
	if pflags.Excl {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (fs *rootFS) Filecmd(r *sftp.Request) error {
	p, err := fs.resolve(r.Filepath)
	if err != nil {
		return err
	}

	switch r.Method {
	case "Setstat":
		return setstat(p, r)
	case "Rename":
		target, err := fs.resolve(r.Target)
		if err != nil {
			return err
		}
		return os.Rename(p, target)
	case "Rmdir", "Remove":
		return os.Remove(p)
	case "Mkdir":
		return os.Mkdir(p, 0o755)
	}
	return sftp.ErrSSHFxOpUnsupported
}

func setstat(p string, r *sftp.Request) error {
	flags := r.AttrFlags()
	attrs := r.Attributes()
	if flags.Permissions {
		if err := os.Chmod(p, os.FileMode(attrs.Mode).Perm()); err != nil {
			return err
		}
	}
	if flags.Size {
		if err := os.Truncate(p, int64(attrs.Size)); err != nil {
			return err
		}
	}
	if flags.Acmodtime {
		atime := time.Unix(int64(attrs.Atime), 0)
		mtime := time.Unix(int64(attrs.Mtime), 0)
		if err := os.Chtimes(p, atime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func (fs *rootFS) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	p, err := fs.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}

	switch r.Method {
	case "List":
		return listDir(p)
	case "Stat":
		fi, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		return listerAt{fi}, nil
	case "Lstat":
		fi, err := os.Lstat(p)
		if err != nil {
			return nil, err
		}
		return listerAt{fi}, nil
	}
	return nil, sftp.ErrSSHFxOpUnsupported
}

// listDir returns the directory entries led by "." and "..", the way
// OpenSSH's sftp-server reports them.
func listDir(p string) (sftp.ListerAt, error) {
	self, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(dirents)+2)
	infos = append(infos, namedInfo{self, "."}, namedInfo{self, ".."})
	for _, d := range dirents {
		fi, err := d.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		infos = append(infos, fi)
	}
	return listerAt(infos), nil
}

type namedInfo struct {
	os.FileInfo
	name string
}

func (n namedInfo) Name() string { return n.name }

type listerAt []os.FileInfo

// ListAt copies entries from offset into ls and returns io.EOF once the
// listing is exhausted.
func (l listerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(ls, l[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}
