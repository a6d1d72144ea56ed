//go:build !linux

package platform

// posix_fadvise is not plumbed through x/sys on the BSDs; the nocache
// flag degrades to a no-op there.

func AdviseSequential(fd uintptr) error { return nil }

func AdviseDontNeed(fd uintptr, off, length int64) error { return nil }
