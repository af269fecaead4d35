package progress

import "io"

// probeLength returns the number of bytes left in r, if r can tell it without being consumed.
// Any failure, including a panicking Seek implementation, means the length is unknown.
func probeLength(r io.Reader) (length int64, ok bool) {
	seeker, isSeeker := r.(io.Seeker)
	if !isSeeker {
		return 0, false
	}

	defer func() {
		if recover() != nil {
			length, ok = 0, false
		}
	}()

	current, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, false
	}
	if _, err := seeker.Seek(current, io.SeekStart); err != nil {
		return 0, false
	}

	if end < current {
		return 0, false
	}
	return end - current, true
}
