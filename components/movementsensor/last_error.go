package movementsensor

import "sync"

// LastError stores recent errors. If there have been sufficiently many recent errors, you can
// retrieve the most recent one.
type LastError struct {
	threshold int

	mu    sync.Mutex
	errs  []error // oldest to newest
	count int     // non-nil entries in errs
}

// NewLastError creates a LastError that reports the most recent error once at least threshold of
// the last size items stored were non-nil.
func NewLastError(size, threshold int) *LastError {
	return &LastError{errs: make([]error, size), threshold: threshold}
}

// Set stores an error, or nil for a successful read.
func (le *LastError) Set(err error) {
	le.mu.Lock()
	defer le.mu.Unlock()

	if le.errs[0] != nil {
		le.count--
	}
	if err != nil {
		le.count++
	}
	le.errs = append(le.errs[1:], err)
}

// Get returns the newest non-nil error if the threshold has been reached. Errors are not cleared,
// so a sensor that has failed keeps reporting it until enough successful reads push it out.
func (le *LastError) Get() error {
	le.mu.Lock()
	defer le.mu.Unlock()

	if le.count < le.threshold || le.count == 0 {
		return nil
	}
	for i := len(le.errs) - 1; i >= 0; i-- {
		if le.errs[i] != nil {
			return le.errs[i]
		}
	}
	return nil
}
