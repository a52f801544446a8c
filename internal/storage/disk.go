package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage returns the bytes a filesystem-backed store occupies. ok is false
// for remote backends.
func DiskUsage(s Store) (n int64, ok bool, err error) {
	switch st := s.(type) {
	case *LocalStore:
		n, err = DiskUsageBytes(st.root)
	case *SQLiteStore:
		n, err = DiskUsageBytes(st.path, st.path+"-wal", st.path+"-shm")
	case *BadgerStore:
		if st.dir == "" {
			return 0, false, nil
		}
		n, err = DiskUsageBytes(st.dir)
	default:
		return 0, false, nil
	}
	return n, true, err
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths contribute 0; other errors are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
