package room

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"dndj/core/player"
)

// Actions exchanged with observers.
const (
	ActionPlayMusic          = "playMusic"
	ActionStopMusic          = "stopMusic"
	ActionSetMasterVolume    = "setMusicMasterVolume"
	ActionSetTrackListVolume = "setTrackListVolume"

	ActionNowPlaying    = "nowPlaying"
	ActionMusicStopped  = "musicStopped"
	ActionMusicFinished = "musicFinished"
)

// FlexInt is an integer field that also accepts numeric strings and
// integral floats, the way browser clients tend to send slider values.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		*n = FlexInt(v)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return fmt.Errorf("integer out of range: %s", data)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("not an integer: %s", data)
	}
	*n = FlexInt(int(f))
	return nil
}

// InboundMessage is a command sent by an observer.
type InboundMessage struct {
	Action         string   `json:"action"`
	GroupIndex     *FlexInt `json:"groupIndex,omitempty"`
	TrackListIndex *FlexInt `json:"trackListIndex,omitempty"`
	Volume         *FlexInt `json:"volume,omitempty"`
}

type actionMessage struct {
	Action string `json:"action"`
}

type nowPlayingMessage struct {
	Action         string `json:"action"`
	GroupIndex     int    `json:"groupIndex"`
	TrackListIndex int    `json:"trackListIndex"`
	GroupName      string `json:"groupName"`
	TrackName      string `json:"trackName"`
}

type masterVolumeMessage struct {
	Action string `json:"action"`
	Volume int    `json:"volume"`
}

type trackListVolumeMessage struct {
	Action         string `json:"action"`
	GroupIndex     int    `json:"groupIndex"`
	TrackListIndex int    `json:"trackListIndex"`
	Volume         int    `json:"volume"`
}

// Encode turns a scheduler event into its outbound observer message.
func Encode(e player.Event) ([]byte, error) {
	var msg interface{}
	switch ev := e.(type) {
	case player.Started:
		msg = nowPlayingMessage{
			Action:         ActionNowPlaying,
			GroupIndex:     ev.GroupIndex,
			TrackListIndex: ev.TrackListIndex,
			GroupName:      ev.GroupName,
			TrackName:      ev.TrackListName,
		}
	case player.Stopped:
		msg = actionMessage{Action: ActionMusicStopped}
	case player.Finished:
		msg = actionMessage{Action: ActionMusicFinished}
	case player.MasterVolumeChanged:
		msg = masterVolumeMessage{Action: ActionSetMasterVolume, Volume: ev.Volume}
	case player.TrackListVolumeChanged:
		msg = trackListVolumeMessage{
			Action:         ActionSetTrackListVolume,
			GroupIndex:     ev.GroupIndex,
			TrackListIndex: ev.TrackListIndex,
			Volume:         ev.Volume,
		}
	default:
		return nil, fmt.Errorf("unknown event %T", e)
	}
	return json.Marshal(msg)
}

// StateMessages describes a state snapshot as the messages an observer
// would have received to reach it.
func StateMessages(st player.State) []player.Event {
	events := []player.Event{player.MasterVolumeChanged{Volume: st.MasterVolume}}
	if st.Active != nil {
		events = append(events, player.Started{
			GroupIndex:     st.Active.GroupIndex,
			TrackListIndex: st.Active.TrackListIndex,
			GroupName:      st.GroupName,
			TrackListName:  st.TrackListName,
		})
	}
	return events
}
