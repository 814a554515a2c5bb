package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dndj/cache"
	"dndj/logger"
	"dndj/model"

	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateTrackList = errors.New("track list names must be unique")
	ErrDanglingNext       = errors.New("next points to a non-existing track list")
)

// Kind says which check a ValidationError comes from.
type Kind string

const (
	KindDuplicateName Kind = "duplicate-name"
	KindDanglingNext  Kind = "dangling-next"
	KindLocation      Kind = "location"
	KindFetch         Kind = "fetch"
)

// ValidationError names the catalog item that failed a check. Err carries the
// cause, so errors.Is tells a missing directory from a missing file.
type ValidationError struct {
	Kind      Kind
	Group     string
	TrackList string
	Track     string
	Err       error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Group != "" {
		fmt.Fprintf(&b, " group=%q", e.Group)
	}
	if e.TrackList != "" {
		fmt.Fprintf(&b, " track_list=%q", e.TrackList)
	}
	if e.Track != "" {
		fmt.Fprintf(&b, " track=%q", e.Track)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Resolver turns a track into a playable local path.
type Resolver interface {
	Resolve(ctx context.Context, ref model.TrackRef) (string, error)
}

// Validate runs every check in order and returns the first failure: names,
// next links, track locations, then a prefetch of all remote tracks with at
// most workers concurrent fetches.
func Validate(ctx context.Context, c *model.Catalog, r Resolver, workers int) error {
	if err := CheckNames(c); err != nil {
		return err
	}
	if err := CheckTracks(ctx, c, r); err != nil {
		return err
	}
	return Prefetch(ctx, c, r, workers)
}

// CheckNames verifies that track list names are unique and that every next
// names an existing track list.
func CheckNames(c *model.Catalog) error {
	logger.Info("checking track list names and next links")

	names := make(map[string]bool)
	for _, g := range c.Groups {
		for _, tl := range g.TrackLists {
			if names[tl.Name] {
				logger.Error("duplicate track list name", logger.String("name", tl.Name))
				return &ValidationError{Kind: KindDuplicateName, Group: g.Name, TrackList: tl.Name, Err: ErrDuplicateTrackList}
			}
			names[tl.Name] = true
		}
	}

	for _, g := range c.Groups {
		for _, tl := range g.TrackLists {
			if tl.Next != "" && !names[tl.Next] {
				logger.Error("next points to a non-existing track list",
					logger.String("track_list", tl.Name),
					logger.String("next", tl.Next))
				return &ValidationError{
					Kind:      KindDanglingNext,
					Group:     g.Name,
					TrackList: tl.Name,
					Err:       fmt.Errorf("%w: %q", ErrDanglingNext, tl.Next),
				}
			}
		}
	}
	return nil
}

// CheckTracks verifies that local tracks exist in their resolved directory
// and that remote tracks carry an extractable identifier. No network access.
func CheckTracks(ctx context.Context, c *model.Catalog, r Resolver) error {
	logger.Info("checking that tracks point to valid locations")

	return c.Walk(func(g *model.Group, tl *model.TrackList, tr model.Track) error {
		var err error
		if tr.Source.IsRemote() {
			_, err = cache.ExtractID(tr.Source.Ref)
		} else {
			_, err = r.Resolve(ctx, model.TrackRef{Catalog: c, Group: g, TrackList: tl, Track: tr})
		}
		if err != nil {
			logger.Error("track does not point to a valid location",
				logger.String("track", tr.Source.Ref),
				logger.ErrorField(err))
			return &ValidationError{Kind: KindLocation, Group: g.Name, TrackList: tl.Name, Track: tr.Source.Ref, Err: err}
		}
		return nil
	})
}

// Prefetch resolves every remote track once per identifier so playback never
// waits on the network.
func Prefetch(ctx context.Context, c *model.Catalog, r Resolver, workers int) error {
	if workers < 1 {
		workers = 1
	}

	seen := make(map[string]bool)
	var refs []model.TrackRef
	_ = c.Walk(func(g *model.Group, tl *model.TrackList, tr model.Track) error {
		if !tr.Source.IsRemote() {
			return nil
		}
		id, err := cache.ExtractID(tr.Source.Ref)
		if err != nil || seen[id] {
			return nil
		}
		seen[id] = true
		refs = append(refs, model.TrackRef{Catalog: c, Group: g, TrackList: tl, Track: tr})
		return nil
	})
	if len(refs) == 0 {
		return nil
	}

	logger.Info("prefetching remote tracks", logger.Int("count", len(refs)), logger.Int("workers", workers))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, ref := range refs {
		ref := ref
		eg.Go(func() error {
			if _, err := r.Resolve(ctx, ref); err != nil {
				return &ValidationError{
					Kind:      KindFetch,
					Group:     ref.Group.Name,
					TrackList: ref.TrackList.Name,
					Track:     ref.Track.Source.Ref,
					Err:       err,
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	logger.Info("all remote tracks are cached", logger.Int("count", len(refs)))
	return nil
}
