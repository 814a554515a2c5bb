package model

import (
	"regexp"
	"time"
)

// SourceKind tells whether a track is read from disk or fetched remotely.
type SourceKind int

const (
	SourceLocal SourceKind = iota
	SourceRemote
)

func (k SourceKind) String() string {
	if k == SourceRemote {
		return "remote"
	}
	return "local"
}

// remoteRefPattern matches links to video pages that can be fetched as audio.
var remoteRefPattern = regexp.MustCompile(`^(https?://)?(www\.)?youtu(be|\.be)?(\.com)?/.+`)

// Source locates a track's audio. Ref is a file name relative to the
// track's resolved directory for local sources, and a URL for remote ones.
type Source struct {
	Kind SourceKind `json:"kind"`
	Ref  string     `json:"ref"`
}

// NewSource classifies a configured file entry.
func NewSource(ref string) Source {
	if remoteRefPattern.MatchString(ref) {
		return Source{Kind: SourceRemote, Ref: ref}
	}
	return Source{Kind: SourceLocal, Ref: ref}
}

func (s Source) IsRemote() bool { return s.Kind == SourceRemote }

// Track is a single playable asset with optional trim points. Immutable once
// the catalog has been loaded.
type Track struct {
	Source  Source         `json:"source"`
	StartAt *time.Duration `json:"startAt,omitempty"`
	EndAt   *time.Duration `json:"endAt,omitempty"`
}

// Bounds returns the trim points, zero meaning "not set".
func (t Track) Bounds() (start, end time.Duration) {
	if t.StartAt != nil {
		start = *t.StartAt
	}
	if t.EndAt != nil {
		end = *t.EndAt
	}
	return start, end
}

func (t Track) String() string {
	return t.Source.Ref
}
