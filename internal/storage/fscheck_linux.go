//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// linuxFilesystems names the statfs magic numbers of shared filesystems
// SQLite cannot lock reliably. Magic numbers fit in 32 bits; Statfs_t.Type
// is signed on some architectures.
var linuxFilesystems = map[uint32]string{
	unix.NFS_SUPER_MAGIC:  "nfs",
	unix.CIFS_SUPER_MAGIC: "cifs",
	unix.SMB_SUPER_MAGIC:  "smbfs",
	unix.SMB2_SUPER_MAGIC: "smb2",
	unix.V9FS_MAGIC:       "9p",
	unix.AFS_SUPER_MAGIC:  "afs",
	unix.CODA_SUPER_MAGIC: "coda",
}

func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	return linuxFilesystemName(uint32(st.Type)), nil
}

func linuxFilesystemName(magic uint32) string {
	if name, ok := linuxFilesystems[magic]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", magic)
}
