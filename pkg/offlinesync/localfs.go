package offlinesync

import "os"

// OSFileSystem implements FileSystem against the local disk.
type OSFileSystem struct{}

// Stat reports the file's size and existence, treating any stat error
// other than "not exist" as existence-unknown (propagated to the caller).
func (OSFileSystem) Stat(path string) (int64, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size(), true, nil
}

// Remove deletes the file, treating "already gone" as success.
func (OSFileSystem) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
