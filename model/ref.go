package model

import "fmt"

// TrackRef points at one track inside a catalog, with everything needed to
// resolve its location.
type TrackRef struct {
	Catalog   *Catalog
	Group     *Group
	TrackList *TrackList
	Track     Track
}

// Directory resolves the local directory of the referenced track.
func (r TrackRef) Directory() (string, error) {
	return r.Catalog.ResolveDirectory(r.Group, r.TrackList)
}

func (r TrackRef) String() string {
	groupName, listName := "", ""
	if r.Group != nil {
		groupName = r.Group.Name
	}
	if r.TrackList != nil {
		listName = r.TrackList.Name
	}
	return fmt.Sprintf("%s/%s/%s", groupName, listName, r.Track.Source.Ref)
}
