package player

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"dndj/logger"
	"dndj/model"
)

var (
	ErrClosed           = errors.New("scheduler closed")
	ErrInvalidVolume    = errors.New("volume must be between 0 and 100")
	ErrUnknownTrackList = errors.New("unknown track list")
)

// Status of the playback session.
type Status int

const (
	Idle Status = iota
	Loading
	Playing
	Cancelling
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Cancelling:
		return "cancelling"
	default:
		return "idle"
	}
}

// Position addresses a track list by group and track list index.
type Position struct {
	GroupIndex     int `json:"groupIndex"`
	TrackListIndex int `json:"trackListIndex"`
}

// State is a snapshot of the session.
type State struct {
	Status          Status    `json:"-"`
	StatusName      string    `json:"status"`
	Active          *Position `json:"active,omitempty"`
	GroupName       string    `json:"groupName,omitempty"`
	TrackListName   string    `json:"trackListName,omitempty"`
	MasterVolume    int       `json:"masterVolume"`
	TrackListVolume int       `json:"trackListVolume,omitempty"`
}

// Resolver turns a track into a playable local path.
type Resolver interface {
	Resolve(ctx context.Context, ref model.TrackRef) (string, error)
}

// run is one playback of a track list. The cursor walks order, a permutation
// of the track indices for the current pass; tracks themselves are never
// mutated.
type run struct {
	gen    uint64
	pos    Position
	group  *model.Group
	list   *model.TrackList
	order  []int
	cursor int
}

func (r *run) resetOrder() {
	n := len(r.list.Tracks)
	if r.list.Shuffle {
		r.order = rand.Perm(n)
	} else {
		r.order = make([]int, n)
		for i := range r.order {
			r.order[i] = i
		}
	}
	r.cursor = 0
}

// Scheduler plays one track list at a time. All transitions run on the
// goroutine executing Run; public methods post closures to its mailbox and
// wait for the reply.
type Scheduler struct {
	catalog  *model.Catalog
	resolver Resolver
	sink     Sink
	pub      Publisher

	mailbox chan func()
	done    chan struct{}

	// owned by the Run goroutine
	ctx             context.Context
	status          Status
	master          int
	active          *run
	generation      uint64
	cancelRequested bool
	idleWaiters     []chan struct{}
	chained         int // lists started since a track last reached the sink
	trackLists      int

	snapMu sync.RWMutex
	snap   State
}

// NewScheduler creates a scheduler over a validated catalog. The master
// volume starts at the catalog default.
func NewScheduler(c *model.Catalog, resolver Resolver, sink Sink, pub Publisher) *Scheduler {
	if pub == nil {
		pub = Publishers(nil)
	}
	s := &Scheduler{
		catalog:  c,
		resolver: resolver,
		sink:     sink,
		pub:      pub,
		mailbox:  make(chan func(), 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		master:   c.DefaultVolume,
	}
	for _, g := range c.Groups {
		s.trackLists += len(g.TrackLists)
	}
	s.updateSnapshot()
	return s
}

// Run processes the mailbox until ctx is done. An active run is stopped on exit.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	defer close(s.done)

	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-ctx.Done():
			if s.active != nil {
				s.sink.Stop()
				s.abort()
			}
			logger.Info("scheduler stopped")
			return
		}
	}
}

// Done is closed once Run has returned.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) post(ctx context.Context, fn func()) error {
	select {
	case s.mailbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Scheduler) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if err := s.post(ctx, func() { reply <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Play starts track list (g, t), cancelling any active run first. The error
// of the first track's resolution or playback is returned; the run is then
// already stopped.
func (s *Scheduler) Play(ctx context.Context, g, t int) error {
	return s.call(ctx, func() error {
		s.chained = 0
		return s.start(g, t)
	})
}

// Cancel stops the active run and waits until the session is idle. It is a
// no-op when nothing is playing.
func (s *Scheduler) Cancel(ctx context.Context) error {
	var wait chan struct{}
	err := s.call(ctx, func() error {
		if s.status == Idle {
			return nil
		}
		wait = make(chan struct{})
		s.idleWaiters = append(s.idleWaiters, wait)
		if !s.cancelRequested {
			s.cancelRequested = true
			s.status = Cancelling
			s.updateSnapshot()
			s.sink.Stop()
		}
		return nil
	})
	if err != nil || wait == nil {
		return err
	}

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// SetMasterVolume updates the master volume and re-applies the gain of the
// active track.
func (s *Scheduler) SetMasterVolume(ctx context.Context, volume int) error {
	if !model.ValidVolume(volume) {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, volume)
	}
	return s.call(ctx, func() error {
		s.master = volume
		if s.active != nil {
			s.sink.SetGain(LinearGain(s.master, s.active.list.Volume))
		}
		s.updateSnapshot()
		s.pub.Publish(MasterVolumeChanged{Volume: volume})
		return nil
	})
}

// SetTrackListVolume updates the volume of track list (g, t), re-applying the
// gain when it is the one playing.
func (s *Scheduler) SetTrackListVolume(ctx context.Context, g, t, volume int) error {
	if !model.ValidVolume(volume) {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, volume)
	}
	return s.call(ctx, func() error {
		_, list := s.catalog.TrackList(g, t)
		if list == nil {
			return fmt.Errorf("%w: group=%d track_list=%d", ErrUnknownTrackList, g, t)
		}
		list.Volume = volume
		if s.active != nil && s.active.list == list {
			s.sink.SetGain(LinearGain(s.master, volume))
		}
		s.updateSnapshot()
		s.pub.Publish(TrackListVolumeChanged{GroupIndex: g, TrackListIndex: t, Volume: volume})
		return nil
	})
}

// Inspect runs fn on the scheduler goroutine, where reading the catalog
// cannot race with volume changes.
func (s *Scheduler) Inspect(ctx context.Context, fn func(c *model.Catalog)) error {
	return s.call(ctx, func() error {
		fn(s.catalog)
		return nil
	})
}

// State returns the latest snapshot without going through the mailbox.
func (s *Scheduler) State() State {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	st := s.snap
	if st.Active != nil {
		pos := *st.Active
		st.Active = &pos
	}
	return st
}

func (s *Scheduler) start(g, t int) error {
	group, list := s.catalog.TrackList(g, t)
	if list == nil {
		return fmt.Errorf("%w: group=%d track_list=%d", ErrUnknownTrackList, g, t)
	}

	if s.active != nil {
		s.sink.Stop()
		s.abort()
	}

	s.generation++
	s.chained++
	r := &run{
		gen:   s.generation,
		pos:   Position{GroupIndex: g, TrackListIndex: t},
		group: group,
		list:  list,
	}
	r.resetOrder()
	s.active = r
	s.status = Loading
	s.updateSnapshot()

	logger.Info("starting track list",
		logger.String("group", group.Name),
		logger.String("track_list", list.Name),
		logger.Int("tracks", len(list.Tracks)))
	s.pub.Publish(Started{
		GroupIndex:     g,
		TrackListIndex: t,
		GroupName:      group.Name,
		TrackListName:  list.Name,
	})

	s.status = Playing
	s.updateSnapshot()
	return s.advance(r)
}

// advance moves run r to its next track, or ends it.
func (s *Scheduler) advance(r *run) error {
	if s.cancelRequested {
		logger.Info("track list cancelled", logger.String("track_list", r.list.Name))
		s.abort()
		return nil
	}

	if r.cursor >= len(r.order) {
		if r.list.Loop && len(r.list.Tracks) > 0 {
			r.resetOrder()
		} else {
			s.finish(r)
			return nil
		}
	}

	track := r.list.Tracks[r.order[r.cursor]]
	r.cursor++

	path, err := s.resolver.Resolve(s.ctx, model.TrackRef{
		Catalog:   s.catalog,
		Group:     r.group,
		TrackList: r.list,
		Track:     track,
	})
	if err != nil {
		logger.Error("could not resolve track",
			logger.String("track_list", r.list.Name),
			logger.String("track", track.Source.Ref),
			logger.ErrorField(err))
		s.abort()
		return fmt.Errorf("resolve %s: %w", track.Source.Ref, err)
	}

	start, end := track.Bounds()
	req := PlayRequest{
		Path:  path,
		Start: start,
		End:   end,
		Gain:  LinearGain(s.master, r.list.Volume),
	}
	if err := s.sink.Play(req, s.completion(r.gen)); err != nil {
		logger.Error("sink refused track", logger.String("path", path), logger.ErrorField(err))
		s.abort()
		return fmt.Errorf("play %s: %w", path, err)
	}
	s.chained = 0
	logger.Debug("playing track",
		logger.String("path", path),
		logger.Duration("start", start),
		logger.Duration("end", end),
		logger.Float64("gain", req.Gain))
	return nil
}

// completion returns the sink callback for run gen. It posts back to the
// mailbox from its own goroutine, so a sink may call it from anywhere.
func (s *Scheduler) completion(gen uint64) func(error) {
	return func(err error) {
		go func() {
			select {
			case s.mailbox <- func() { s.trackDone(gen, err) }:
			case <-s.done:
			}
		}()
	}
}

func (s *Scheduler) trackDone(gen uint64, err error) {
	r := s.active
	if r == nil || r.gen != gen {
		return
	}
	if err != nil && !errors.Is(err, ErrInterrupted) {
		logger.Error("track playback failed", logger.String("track_list", r.list.Name), logger.ErrorField(err))
		s.abort()
		return
	}
	_ = s.advance(r)
}

func (s *Scheduler) finish(r *run) {
	logger.Info("track list finished", logger.String("track_list", r.list.Name))
	s.toIdle(Finished{})

	if r.list.Next == "" {
		return
	}
	g, t, ok := s.catalog.FindTrackList(r.list.Next)
	if !ok {
		logger.Error("next track list not found",
			logger.String("track_list", r.list.Name),
			logger.String("next", r.list.Next))
		return
	}

	// Every list was started without a track reaching the sink, so the
	// chain is a cycle of empty lists.
	if s.chained >= s.trackLists {
		logger.Error("next chain plays no track, stopping",
			logger.String("track_list", r.list.Name),
			logger.Int("started", s.chained))
		return
	}

	// Started in the same mailbox turn, so no command can observe the idle
	// gap between Finished and the next Started.
	if err := s.start(g, t); err != nil {
		logger.Error("could not start next track list", logger.String("next", r.list.Next), logger.ErrorField(err))
	}
}

// abort ends the active run with Stopped. Callers stop the sink when needed.
func (s *Scheduler) abort() {
	s.toIdle(Stopped{})
}

// toIdle ends the active run with e. The snapshot is idle before e is
// published, and Cancel callers are released after.
func (s *Scheduler) toIdle(e Event) {
	s.active = nil
	s.cancelRequested = false
	s.status = Idle
	s.updateSnapshot()
	s.pub.Publish(e)
	for _, w := range s.idleWaiters {
		close(w)
	}
	s.idleWaiters = nil
}

func (s *Scheduler) updateSnapshot() {
	st := State{
		Status:       s.status,
		StatusName:   s.status.String(),
		MasterVolume: s.master,
	}
	if r := s.active; r != nil {
		pos := r.pos
		st.Active = &pos
		st.GroupName = r.group.Name
		st.TrackListName = r.list.Name
		st.TrackListVolume = r.list.Volume
	}
	s.snapMu.Lock()
	s.snap = st
	s.snapMu.Unlock()
}
