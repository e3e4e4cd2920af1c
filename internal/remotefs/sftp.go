package remotefs

import (
	"io"
	"os"
	"unicode/utf8"
)

// List returns the entries of the remote directory in server order, without
// the "." and ".." pseudo-entries. Names that are not valid UTF-8 are
// reported as "" instead of failing the listing.
func (s *Session) List(remotePath string) ([]Entry, error) {
	if err := s.begin(StateListing); err != nil {
		return nil, err
	}
	defer s.Close()

	// pkg/sftp has no public OPENDIR, so Stat stands in for the open step.
	// A directory that stats fine but refuses OPENDIR fails as Read dir.
	fi, err := s.sftpClient.Stat(remotePath)
	if err != nil {
		return nil, opErr(StepOpenDir, remotePath, err)
	}
	if !fi.IsDir() {
		return nil, opErr(StepOpenDir, remotePath, ErrNotDirectory)
	}

	infos, err := s.sftpClient.ReadDir(remotePath)
	if err != nil {
		return nil, opErr(StepReadDir, remotePath, err)
	}
	return entriesFromInfos(infos), nil
}

func entriesFromInfos(infos []os.FileInfo) []Entry {
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if name == "." || name == ".." {
			continue
		}
		if !utf8.ValidString(name) {
			name = ""
		}

		e := Entry{Name: name, IsDir: fi.IsDir()}
		if !e.IsDir {
			size := uint64(fi.Size())
			e.Size = &size
		}
		entries = append(entries, e)
	}
	return entries
}

// Download copies remotePath into localPath, creating or truncating it.
// The remote file is opened before the local one is created, so a missing
// remote path leaves the local filesystem untouched. A failed copy leaves
// the partial local file in place.
func (s *Session) Download(remotePath, localPath string) error {
	if err := s.begin(StateTransferring); err != nil {
		return err
	}
	defer s.Close()

	src, err := s.sftpClient.Open(remotePath)
	if err != nil {
		return opErr(StepRemoteOpen, remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return opErr(StepLocalCreate, localPath, err)
	}

	n, err := copyChunks(dst, src, chunkCopy{
		readStep: StepRemoteRead, readPath: remotePath,
		writeStep: StepLocalWrite, writePath: localPath,
	})
	s.transferred = n
	if cerr := dst.Close(); err == nil && cerr != nil {
		err = opErr(StepLocalWrite, localPath, cerr)
	}
	return err
}

// Upload copies localPath to remotePath, creating or truncating the remote
// file with mode 0644. The local file is opened first, so a missing local
// path never creates a remote file.
func (s *Session) Upload(localPath, remotePath string) error {
	if err := s.begin(StateTransferring); err != nil {
		return err
	}
	defer s.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return opErr(StepLocalOpen, localPath, err)
	}
	defer src.Close()

	dst, err := s.sftpClient.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return opErr(StepRemoteCreate, remotePath, err)
	}
	if err := dst.Chmod(uploadFileMode); err != nil {
		// Some servers refuse SETSTAT; the file is still usable.
		s.logger.Warn().Err(err).Str("path", remotePath).Msg("remotefs: chmod after create failed")
	}

	n, err := copyChunks(dst, src, chunkCopy{
		readStep: StepLocalRead, readPath: localPath,
		writeStep: StepRemoteWrite, writePath: remotePath,
	})
	s.transferred = n
	if cerr := dst.Close(); err == nil && cerr != nil {
		err = opErr(StepRemoteWrite, remotePath, cerr)
	}
	return err
}

type chunkCopy struct {
	readStep  Step
	readPath  string
	writeStep Step
	writePath string
}

// copyChunks moves src into dst through a fixed 8 KiB buffer, writing each
// chunk in full before the next read. A zero-length read ends the copy.
func copyChunks(dst io.Writer, src io.Reader, cc chunkCopy) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, opErr(cc.writeStep, cc.writePath, err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, opErr(cc.readStep, cc.readPath, readErr)
		}
		if n == 0 {
			return total, nil
		}
	}
}
