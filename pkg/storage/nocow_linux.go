package storage

import (
	"golang.org/x/sys/unix"
)

// fsNoCOWFlag is FS_NOCOW_FL from include/uapi/linux/fs.h, which
// golang.org/x/sys/unix does not define.
const fsNoCOWFlag = 0x00800000

func isBtrfs(path string) bool {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return false
	}
	return fs.Type == unix.BTRFS_SUPER_MAGIC
}

// setNoCOW sets FS_NOCOW_FL on the directory so files created inside it
// inherit the attribute.
func setNoCOW(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	flags, err := unix.IoctlGetInt(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return err
	}
	return unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, flags|fsNoCOWFlag)
}
