//go:build !linux

package system

import "fmt"

func statfsFree(path string) (uint64, error) {
	return 0, fmt.Errorf("system: free-space query unsupported on this platform")
}
