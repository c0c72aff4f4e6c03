package store

import "errors"

// ErrQuotaExceeded is returned by PlaylistProvider.SearchOfficial when the
// upstream video-site API reports its search quota exhausted. The
// playback resolver classifies any error satisfying errors.Is(err,
// ErrQuotaExceeded) as a breaker trip.
var ErrQuotaExceeded = errors.New("search quota exceeded")

// ErrNotFound is returned by Store lookups that find nothing.
var ErrNotFound = errors.New("not found")
