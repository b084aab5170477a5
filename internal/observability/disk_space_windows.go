//go:build windows

package observability

import "golang.org/x/sys/windows"

func statDisk(path string) (diskUsage, error) {
	dir, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return diskUsage{}, err
	}

	var usage diskUsage

	// Available honours per-user quotas, unlike the free total.
	if err := windows.GetDiskFreeSpaceEx(dir, &usage.Available, &usage.Total, nil); err != nil {
		return diskUsage{}, err
	}

	return usage, nil
}
