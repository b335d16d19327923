//go:build !unix

package csvutil

// Lock is a no-op where advisory flock is unavailable; the in-process
// mutex still serializes writers within one process.
func Lock(path string) (func(), error) {
	return func() {}, nil
}
