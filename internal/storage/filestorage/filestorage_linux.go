package filestorage

import (
	"os"

	"golang.org/x/sys/unix"
)

// disableReadAhead tells the kernel this file will be accessed randomly
// (piece order, not sequential), to avoid wasted readahead I/O.
func disableReadAhead(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
}
