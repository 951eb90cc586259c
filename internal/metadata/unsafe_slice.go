package metadata

import "unsafe"

func unsafeSliceFrom[R any](first *R, n int) []R {
	return unsafe.Slice(first, n)
}
