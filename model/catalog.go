package model

import (
	"errors"
	"fmt"
)

// ErrMissingDirectory is returned when a local track has no directory at the
// track list, group or catalog level.
var ErrMissingDirectory = errors.New("missing directory")

// TrackList is a named, ordered sequence of tracks. Volume is the only field
// changed after load, and only by the playback scheduler.
type TrackList struct {
	Name      string  `json:"name"`
	Directory string  `json:"directory,omitempty"`
	Volume    int     `json:"volume"`
	Loop      bool    `json:"loop"`
	Shuffle   bool    `json:"shuffle"`
	Next      string  `json:"next,omitempty"`
	Tracks    []Track `json:"tracks"`
}

// Group is a named collection of track lists sharing an optional directory.
type Group struct {
	Name       string       `json:"name"`
	Directory  string       `json:"directory,omitempty"`
	TrackLists []*TrackList `json:"trackLists"`
}

// Catalog is the full description of everything that can be played.
type Catalog struct {
	Groups           []*Group `json:"groups"`
	DefaultVolume    int      `json:"volume"`
	DefaultDirectory string   `json:"directory,omitempty"`
}

// TrackList returns the track list at (g, t) or nil when out of range.
func (c *Catalog) TrackList(g, t int) (*Group, *TrackList) {
	if g < 0 || g >= len(c.Groups) {
		return nil, nil
	}
	group := c.Groups[g]
	if t < 0 || t >= len(group.TrackLists) {
		return group, nil
	}
	return group, group.TrackLists[t]
}

// FindTrackList returns the indices of the first track list named name, in
// catalog order.
func (c *Catalog) FindTrackList(name string) (g, t int, ok bool) {
	for gi, group := range c.Groups {
		for ti, tl := range group.TrackLists {
			if tl.Name == name {
				return gi, ti, true
			}
		}
	}
	return -1, -1, false
}

// Walk calls fn for every track in catalog order, stopping at the first error.
func (c *Catalog) Walk(fn func(g *Group, tl *TrackList, tr Track) error) error {
	for _, group := range c.Groups {
		for _, tl := range group.TrackLists {
			for _, tr := range tl.Tracks {
				if err := fn(group, tl, tr); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ResolveDirectory applies the directory precedence
// track list -> group -> catalog default.
func (c *Catalog) ResolveDirectory(g *Group, tl *TrackList) (string, error) {
	switch {
	case tl != nil && tl.Directory != "":
		return tl.Directory, nil
	case g != nil && g.Directory != "":
		return g.Directory, nil
	case c.DefaultDirectory != "":
		return c.DefaultDirectory, nil
	}
	groupName, listName := "", ""
	if g != nil {
		groupName = g.Name
	}
	if tl != nil {
		listName = tl.Name
	}
	return "", fmt.Errorf("%w for group=%s and track_list=%s", ErrMissingDirectory, groupName, listName)
}

// ValidVolume reports whether v is a valid volume percentage.
func ValidVolume(v int) bool {
	return v >= 0 && v <= 100
}
