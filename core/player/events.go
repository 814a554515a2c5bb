package player

// Event is a scheduler transition. The set of variants is closed: Started,
// Stopped, Finished, MasterVolumeChanged and TrackListVolumeChanged.
type Event interface {
	isEvent()
}

// Started is emitted when a track list begins playing.
type Started struct {
	GroupIndex     int
	TrackListIndex int
	GroupName      string
	TrackListName  string
}

// Stopped is emitted when a run is cancelled or aborted.
type Stopped struct{}

// Finished is emitted when a non-looping track list runs out of tracks.
type Finished struct{}

type MasterVolumeChanged struct {
	Volume int
}

type TrackListVolumeChanged struct {
	GroupIndex     int
	TrackListIndex int
	Volume         int
}

func (Started) isEvent()                {}
func (Stopped) isEvent()                {}
func (Finished) isEvent()               {}
func (MasterVolumeChanged) isEvent()    {}
func (TrackListVolumeChanged) isEvent() {}

// Publisher receives every event in transition order. Publish is called from
// the scheduler goroutine and must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Publishers fans an event out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(e Event) {
	for _, p := range ps {
		p.Publish(e)
	}
}
