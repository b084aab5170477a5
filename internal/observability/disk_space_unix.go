//go:build !windows

package observability

import "golang.org/x/sys/unix"

// statDisk reports the space left to unprivileged writers on the filesystem
// holding path.
func statDisk(path string) (diskUsage, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return diskUsage{}, err
	}

	block := uint64(fs.Bsize)

	return diskUsage{
		Total:     fs.Blocks * block,
		Available: fs.Bavail * block,
	}, nil
}
