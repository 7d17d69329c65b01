package localfs

import "golang.org/x/sys/unix"

// readDirEntries behaves like glibc's getdirentries: the cursor reports the
// offset of the directory stream before entries are read, and any incoming
// cursor value is ignored.
func readDirEntries(fd int, p []byte, cursor *int64) (int, error) {
	off, err := unix.Seek(fd, 0, unix.SEEK_CUR)
	if err != nil {
		return -1, err
	}
	n, err := unix.Getdents(fd, p)
	if err != nil {
		return -1, err
	}
	if cursor != nil {
		*cursor = off
	}
	return n, nil
}
