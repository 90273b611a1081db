//go:build linux

package enforcer

import "os"

func writeCgroupFile(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

func cgroupDirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
