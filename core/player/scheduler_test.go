package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dndj/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fakeSink struct {
	mu      sync.Mutex
	current func(error)
	gains   []float64
	stops   int
	plays   chan PlayRequest
	failing error
}

func newFakeSink() *fakeSink {
	return &fakeSink{plays: make(chan PlayRequest, 64)}
}

func (s *fakeSink) Play(req PlayRequest, done func(error)) error {
	if s.failing != nil {
		return s.failing
	}
	s.mu.Lock()
	s.current = done
	s.mu.Unlock()
	s.plays <- req
	return nil
}

func (s *fakeSink) SetGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains = append(s.gains, gain)
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	done := s.current
	s.current = nil
	s.stops++
	s.mu.Unlock()
	if done != nil {
		done(ErrInterrupted)
	}
}

// finishTrack ends the current track as if it played to the end.
func (s *fakeSink) finishTrack(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	done := s.current
	s.current = nil
	s.mu.Unlock()
	require.NotNil(t, done, "no track playing")
	done(nil)
}

func (s *fakeSink) nextPlay(t *testing.T) PlayRequest {
	t.Helper()
	select {
	case req := <-s.plays:
		return req
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for sink.Play")
		return PlayRequest{}
	}
}

func (s *fakeSink) lastGain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.gains) == 0 {
		return -1
	}
	return s.gains[len(s.gains)-1]
}

type recorder struct {
	events chan Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 64)}
}

func (r *recorder) Publish(e Event) { r.events <- e }

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (r *recorder) expect(t *testing.T, want ...Event) {
	t.Helper()
	for _, w := range want {
		assert.Equal(t, w, r.next(t))
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected event %#v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

type pathResolver struct {
	fail map[string]error
}

func (r pathResolver) Resolve(_ context.Context, ref model.TrackRef) (string, error) {
	if err := r.fail[ref.Track.Source.Ref]; err != nil {
		return "", err
	}
	return "/music/" + ref.Track.Source.Ref, nil
}

func tracks(files ...string) []model.Track {
	out := make([]model.Track, len(files))
	for i, f := range files {
		out[i] = model.Track{Source: model.NewSource(f)}
	}
	return out
}

// testCatalog has one group "Ambience" with:
//
//	0 Rain   one track, no loop
//	1 Storm  two tracks, looping
//	2 Dawn   one track, no loop, next Rain
//	3 Empty  no tracks, no loop
//	4 Dusk   two tracks, no loop, next Rain
func testCatalog() *model.Catalog {
	return &model.Catalog{
		DefaultVolume: 100,
		Groups: []*model.Group{{
			Name:      "Ambience",
			Directory: "/music",
			TrackLists: []*model.TrackList{
				{Name: "Rain", Volume: 100, Tracks: tracks("rain.mp3")},
				{Name: "Storm", Volume: 50, Loop: true, Tracks: tracks("thunder.mp3", "wind.mp3")},
				{Name: "Dawn", Volume: 100, Next: "Rain", Tracks: tracks("birds.mp3")},
				{Name: "Empty", Volume: 100},
				{Name: "Dusk", Volume: 100, Next: "Rain", Tracks: tracks("crickets.mp3", "owl.mp3")},
			},
		}},
	}
}

func startScheduler(t *testing.T, c *model.Catalog, r Resolver) (*Scheduler, *fakeSink, *recorder) {
	t.Helper()
	sink := newFakeSink()
	rec := newRecorder()
	s := NewScheduler(c, r, sink, rec)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s, sink, rec
}

func started(t int, name string) Started {
	return Started{GroupIndex: 0, TrackListIndex: t, GroupName: "Ambience", TrackListName: name}
}

func TestEffectiveGain(t *testing.T) {
	tests := []struct {
		master, list int
		want         float64
	}{
		{100, 100, 1.0},
		{50, 50, 0.25},
		{0, 80, 0},
		{80, 0, 0},
		{100, 40, 0.4},
		{33, 33, 0.1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, LinearGain(tt.master, tt.list), 1e-9, "%d/%d", tt.master, tt.list)
	}
	assert.Equal(t, 10, EffectiveGain(33, 33))
}

func TestPlayToFinish(t *testing.T) {
	s, sink, rec := startScheduler(t, testCatalog(), pathResolver{})
	ctx := context.Background()

	require.NoError(t, s.Play(ctx, 0, 0))
	rec.expect(t, started(0, "Rain"))

	st := s.State()
	assert.Equal(t, Playing, st.Status)
	require.NotNil(t, st.Active)
	assert.Equal(t, Position{GroupIndex: 0, TrackListIndex: 0}, *st.Active)
	assert.Equal(t, "Rain", st.TrackListName)

	req := sink.nextPlay(t)
	assert.Equal(t, "/music/rain.mp3", req.Path)
	assert.InDelta(t, 1.0, req.Gain, 1e-9)

	sink.finishTrack(t)
	rec.expect(t, Finished{})
	assert.Equal(t, Idle, s.State().Status)
	assert.Nil(t, s.State().Active)
	rec.expectNone(t)
}

func TestLoopReplaysFromFirstTrack(t *testing.T) {
	s, sink, rec := startScheduler(t, testCatalog(), pathResolver{})

	require.NoError(t, s.Play(context.Background(), 0, 1))
	rec.expect(t, started(1, "Storm"))

	var paths []string
	for i := 0; i < 5; i++ {
		paths = append(paths, sink.nextPlay(t).Path)
		sink.finishTrack(t)
	}
	assert.Equal(t, []string{
		"/music/thunder.mp3", "/music/wind.mp3",
		"/music/thunder.mp3", "/music/wind.mp3",
		"/music/thunder.mp3",
	}, paths)
	assert.Equal(t, Playing, s.State().Status)
}

func TestShufflePlaysEveryTrackEachPass(t *testing.T) {
	c := testCatalog()
	storm := c.Groups[0].TrackLists[1]
	storm.Shuffle = true
	storm.Tracks = tracks("a.mp3", "b.mp3", "c.mp3", "d.mp3")
	s, sink, _ := startScheduler(t, c, pathResolver{})

	require.NoError(t, s.Play(context.Background(), 0, 1))
	for pass := 0; pass < 2; pass++ {
		var got []string
		for i := 0; i < 4; i++ {
			got = append(got, sink.nextPlay(t).Path)
			sink.finishTrack(t)
		}
		assert.ElementsMatch(t, []string{"/music/a.mp3", "/music/b.mp3", "/music/c.mp3", "/music/d.mp3"}, got)
	}
}

func TestNextChainsAfterFinish(t *testing.T) {
	s, sink, rec := startScheduler(t, testCatalog(), pathResolver{})

	require.NoError(t, s.Play(context.Background(), 0, 2))
	rec.expect(t, started(2, "Dawn"))
	assert.Equal(t, "/music/birds.mp3", sink.nextPlay(t).Path)

	sink.finishTrack(t)
	rec.expect(t, Finished{}, started(0, "Rain"))
	assert.Equal(t, "/music/rain.mp3", sink.nextPlay(t).Path)
	assert.Equal(t, "Rain", s.State().TrackListName)
}

func TestNextWaitsForLastTrack(t *testing.T) {
	s, sink, rec := startScheduler(t, testCatalog(), pathResolver{})

	require.NoError(t, s.Play(context.Background(), 0, 4))
	rec.expect(t, started(4, "Dusk"))
	assert.Equal(t, "/music/crickets.mp3", sink.nextPlay(t).Path)

	sink.finishTrack(t)
	assert.Equal(t, "/music/owl.mp3", sink.nextPlay(t).Path)
	rec.expectNone(t)
	assert.Equal(t, "Dusk", s.State().TrackListName)

	sink.finishTrack(t)
	rec.expect(t, Finished{}, started(0, "Rain"))
	assert.Equal(t, "/music/rain.mp3", sink.nextPlay(t).Path)
}

// onFinish runs react in its own goroutine whenever Finished is published,
// the way an observer reacting to musicFinished would.
type onFinish struct {
	*recorder
	react func()
}

func (o *onFinish) Publish(e Event) {
	o.recorder.Publish(e)
	if _, ok := e.(Finished); ok && o.react != nil {
		go o.react()
	}
}

func startReacting(t *testing.T) (*Scheduler, *fakeSink, *onFinish) {
	t.Helper()
	sink := newFakeSink()
	pub := &onFinish{recorder: newRecorder()}
	s := NewScheduler(testCatalog(), pathResolver{}, sink, pub)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s, sink, pub
}

func TestCancelAfterFinishStopsNextList(t *testing.T) {
	s, sink, pub := startReacting(t)
	returned := make(chan error, 1)
	pub.react = func() { returned <- s.Cancel(context.Background()) }

	require.NoError(t, s.Play(context.Background(), 0, 2))
	assert.Equal(t, "/music/birds.mp3", sink.nextPlay(t).Path)
	sink.finishTrack(t)

	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("cancel did not return")
	}
	pub.expect(t, started(2, "Dawn"), Finished{}, started(0, "Rain"), Stopped{})
	assert.Equal(t, Idle, s.State().Status)
	assert.Nil(t, s.State().Active)
	pub.expectNone(t)
}

func TestInspectAfterFinishSeesNextList(t *testing.T) {
	s, sink, pub := startReacting(t)
	seen := make(chan State, 1)
	pub.react = func() {
		_ = s.Inspect(context.Background(), func(*model.Catalog) { seen <- s.State() })
	}

	require.NoError(t, s.Play(context.Background(), 0, 2))
	sink.nextPlay(t)
	sink.finishTrack(t)

	select {
	case st := <-seen:
		assert.Equal(t, Playing, st.Status)
		assert.Equal(t, "Rain", st.TrackListName)
	case <-time.After(waitTimeout):
		t.Fatal("inspect did not run")
	}
}

func TestNextCycleOfEmptyListsStops(t *testing.T) {
	c := &model.Catalog{
		DefaultVolume: 100,
		Groups: []*model.Group{{
			Name:      "Ambience",
			Directory: "/music",
			TrackLists: []*model.TrackList{
				{Name: "Ping", Volume: 100, Next: "Pong"},
				{Name: "Pong", Volume: 100, Next: "Ping"},
			},
		}},
	}
	s, _, rec := startScheduler(t, c, pathResolver{})

	require.NoError(t, s.Play(context.Background(), 0, 0))
	rec.expect(t, started(0, "Ping"), Finished{}, started(1, "Pong"), Finished{})
	rec.expectNone(t)
	assert.Equal(t, Idle, s.State().Status)
}

func TestEmptyTrackListFinishesImmediately(t *testing.T) {
	s, _, rec := startScheduler(t, testCatalog(), pathResolver{})

	require.NoError(t, s.Play(context.Background(), 0, 3))
	rec.expect(t, started(3, "Empty"), Finished{})
	assert.Equal(t, Idle, s.State().Status)
}

func TestCancelWhileIdleIsNoop(t *testing.T) {
	s, sink, rec := startScheduler(t, testCatalog(), pathResolver{})

	require.NoError(t, s.Cancel(context.Background()))
	rec.expectNone(t)
	assert.Equal(t, Idle, s.State().Status)
	assert.Zero(t, sink.stops)
}

func TestCancelStopsOnce(t *testing.T) {
	s, sink, rec := startScheduler(t, testCatalog(), pathResolver{})
	ctx := context.Background()

	require.NoError(t, s.Play(ctx, 0, 1))
	rec.expect(t, started(1, "Storm"))
	sink.nextPlay(t)

	require.NoError(t, s.Cancel(ctx))
	assert.Equal(t, Idle, s.State().Status)
	rec.expect(t, Stopped{})

	require.NoError(t, s.Cancel(ctx))
	rec.expectNone(t)
}

func TestPlayWhilePlayingReplacesRun(t *testing.T) {
	s, sink, rec := startScheduler(t, testCatalog(), pathResolver{})
	ctx := context.Background()

	require.NoError(t, s.Play(ctx, 0, 1))
	sink.nextPlay(t)
	require.NoError(t, s.Play(ctx, 0, 0))

	rec.expect(t, started(1, "Storm"), Stopped{}, started(0, "Rain"))
	assert.Equal(t, "/music/rain.mp3", sink.nextPlay(t).Path)
	assert.Equal(t, "Rain", s.State().TrackListName)

	sink.finishTrack(t)
	rec.expect(t, Finished{})
	rec.expectNone(t)
}

func TestPlayUnknownTrackList(t *testing.T) {
	s, _, rec := startScheduler(t, testCatalog(), pathResolver{})

	err := s.Play(context.Background(), 0, 9)
	assert.ErrorIs(t, err, ErrUnknownTrackList)
	err = s.Play(context.Background(), 4, 0)
	assert.ErrorIs(t, err, ErrUnknownTrackList)
	rec.expectNone(t)
}

func TestPlayResolveFailure(t *testing.T) {
	boom := errors.New("file does not exist")
	s, _, rec := startScheduler(t, testCatalog(), pathResolver{fail: map[string]error{"rain.mp3": boom}})

	err := s.Play(context.Background(), 0, 0)
	assert.ErrorIs(t, err, boom)
	rec.expect(t, started(0, "Rain"), Stopped{})
	assert.Equal(t, Idle, s.State().Status)
}

func TestLaterResolveFailureStops(t *testing.T) {
	boom := errors.New("gone")
	s, sink, rec := startScheduler(t, testCatalog(), pathResolver{fail: map[string]error{"wind.mp3": boom}})

	require.NoError(t, s.Play(context.Background(), 0, 1))
	rec.expect(t, started(1, "Storm"))
	sink.nextPlay(t)
	sink.finishTrack(t)

	rec.expect(t, Stopped{})
	assert.Equal(t, Idle, s.State().Status)
}

func TestSinkFailure(t *testing.T) {
	c := testCatalog()
	sink := newFakeSink()
	sink.failing = errors.New("no audio device")
	rec := newRecorder()
	s := NewScheduler(c, pathResolver{}, sink, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	err := s.Play(context.Background(), 0, 0)
	assert.ErrorIs(t, err, sink.failing)
	rec.expect(t, started(0, "Rain"), Stopped{})
}

func TestMasterVolume(t *testing.T) {
	s, sink, rec := startScheduler(t, testCatalog(), pathResolver{})
	ctx := context.Background()

	require.NoError(t, s.SetMasterVolume(ctx, 80))
	rec.expect(t, MasterVolumeChanged{Volume: 80})
	assert.Equal(t, 80, s.State().MasterVolume)
	assert.Equal(t, -1.0, sink.lastGain())

	require.NoError(t, s.Play(ctx, 0, 1))
	rec.expect(t, started(1, "Storm"))
	assert.InDelta(t, 0.4, sink.nextPlay(t).Gain, 1e-9)

	require.NoError(t, s.SetMasterVolume(ctx, 50))
	rec.expect(t, MasterVolumeChanged{Volume: 50})
	assert.InDelta(t, 0.25, sink.lastGain(), 1e-9)

	assert.ErrorIs(t, s.SetMasterVolume(ctx, 101), ErrInvalidVolume)
	assert.ErrorIs(t, s.SetMasterVolume(ctx, -1), ErrInvalidVolume)
	rec.expectNone(t)
}

func TestTrackListVolume(t *testing.T) {
	c := testCatalog()
	s, sink, rec := startScheduler(t, c, pathResolver{})
	ctx := context.Background()

	require.NoError(t, s.Play(ctx, 0, 1))
	rec.expect(t, started(1, "Storm"))
	sink.nextPlay(t)

	require.NoError(t, s.SetTrackListVolume(ctx, 0, 0, 30))
	rec.expect(t, TrackListVolumeChanged{GroupIndex: 0, TrackListIndex: 0, Volume: 30})
	assert.Equal(t, -1.0, sink.lastGain(), "gain of another list must not change")

	require.NoError(t, s.SetTrackListVolume(ctx, 0, 1, 20))
	rec.expect(t, TrackListVolumeChanged{GroupIndex: 0, TrackListIndex: 1, Volume: 20})
	assert.InDelta(t, 0.2, sink.lastGain(), 1e-9)
	assert.Equal(t, 20, s.State().TrackListVolume)

	var volume int
	require.NoError(t, s.Inspect(ctx, func(c *model.Catalog) { volume = c.Groups[0].TrackLists[1].Volume }))
	assert.Equal(t, 20, volume)

	assert.ErrorIs(t, s.SetTrackListVolume(ctx, 0, 9, 20), ErrUnknownTrackList)
	assert.ErrorIs(t, s.SetTrackListVolume(ctx, 0, 1, 200), ErrInvalidVolume)
	rec.expectNone(t)
}

func TestClosedScheduler(t *testing.T) {
	s := NewScheduler(testCatalog(), pathResolver{}, newFakeSink(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	cancel()
	<-s.Done()

	assert.ErrorIs(t, s.Play(context.Background(), 0, 0), ErrClosed)
}
