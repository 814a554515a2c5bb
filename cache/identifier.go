package cache

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidRemote is returned for remote references without a recognizable id.
var ErrInvalidRemote = errors.New("not a recognizable remote reference")

// remoteIDPattern captures the 11-character video id from the usual URL shapes
// (watch?v=, youtu.be/, embed/, v/, nocookie hosts).
var remoteIDPattern = regexp.MustCompile(
	`(?:youtube(?:-nocookie)?\.com/(?:[^/]+/.+/|(?:v|e(?:mbed)?)/|.*[?&]v=)|youtu\.be/)([^"&?/\s]{11})`,
)

// ExtractID returns the canonical cache identifier embedded in a remote
// reference. It never touches the network.
func ExtractID(ref string) (string, error) {
	m := remoteIDPattern.FindStringSubmatch(ref)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRemote, ref)
	}
	return m[1], nil
}
