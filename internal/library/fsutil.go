package library

import "os"

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Exists reports whether a song locator still points at a file.
func Exists(locator string) bool {
	info, err := os.Stat(locator)
	return err == nil && !info.IsDir()
}
