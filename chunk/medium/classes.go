package medium

import "github.com/go-hpcalloc/hpcalloc"

// DefaultSizeClasses returns the sorted size-class vector (16, 24, 32,
// 48, 64, 96, 128, … up to the huge boundary): two classes per
// octave, the octave boundary itself and 1.5x it, starting at
// MediumMin and running up to (but not including) HugeThreshold —
// sizes at or above that boundary are the huge manager's job, not the
// medium pool's.
func DefaultSizeClasses() []uintptr {
	var classes []uintptr
	for base := uintptr(hpcalloc.MediumMin); base < hpcalloc.HugeThreshold; base <<= 1 {
		classes = append(classes, base)
		half := base + base/2
		if half < hpcalloc.HugeThreshold {
			classes = append(classes, half)
		}
	}
	return classes
}

// classIndexBinary finds the first class >= inner via binary search,
// used for any size-class vector other than the one DefaultSizeClasses
// produces.
func classIndexBinary(classes []uintptr, inner uintptr) int {
	lo, hi := 0, len(classes)
	for lo < hi {
		mid := (lo + hi) / 2
		if classes[mid] < inner {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// classIndexClosedForm computes the same answer as classIndexBinary
// without a search, but only when classes is exactly what
// DefaultSizeClasses produces; callers must fall back to
// classIndexBinary for any other vector. For inner above the largest
// class it returns the last index, where classIndexBinary returns
// len(classes); callers clamp both to the last class.
func classIndexClosedForm(inner uintptr) int {
	if inner <= hpcalloc.MediumMin {
		return 0
	}
	base := uintptr(hpcalloc.MediumMin)
	idx := 0
	for base < hpcalloc.HugeThreshold {
		half := base + base/2
		if inner <= base {
			return idx
		}
		if half < hpcalloc.HugeThreshold {
			if inner <= half {
				return idx + 1
			}
			idx += 2
		} else {
			idx++
		}
		base <<= 1
	}
	return idx - 1
}
