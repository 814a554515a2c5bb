package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dndj/logger"
)

var (
	errMissingField  = errors.New("missing field")
	errUnknownAction = errors.New("unknown action")
)

// Controller is the part of the scheduler observers may drive.
type Controller interface {
	Play(ctx context.Context, g, t int) error
	Cancel(ctx context.Context) error
	SetMasterVolume(ctx context.Context, volume int) error
	SetTrackListVolume(ctx context.Context, g, t, volume int) error
}

// Dispatcher turns inbound observer messages into scheduler commands.
// Malformed or unknown messages are ignored; the scheduler reports outcomes
// through its events, so nothing is answered directly.
type Dispatcher struct {
	ctrl Controller
}

func NewDispatcher(ctrl Controller) *Dispatcher {
	return &Dispatcher{ctrl: ctrl}
}

// Handle matches the Client.ReadPump handler signature.
func (d *Dispatcher) Handle(ctx context.Context, client *Client, raw []byte) {
	observer := ""
	if client != nil {
		observer = client.ID
	}

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Debug("ignoring malformed message", logger.String("observer", observer), logger.ErrorField(err))
		return
	}

	err := d.dispatch(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, errMissingField), errors.Is(err, errUnknownAction):
		logger.Debug("ignoring message", logger.String("observer", observer), logger.ErrorField(err))
	default:
		logger.Warn("command failed",
			logger.String("observer", observer),
			logger.String("action", msg.Action),
			logger.ErrorField(err))
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg InboundMessage) error {
	switch msg.Action {
	case ActionPlayMusic:
		if msg.GroupIndex == nil || msg.TrackListIndex == nil {
			return fmt.Errorf("%w: %s needs groupIndex and trackListIndex", errMissingField, msg.Action)
		}
		return d.ctrl.Play(ctx, int(*msg.GroupIndex), int(*msg.TrackListIndex))

	case ActionStopMusic:
		return d.ctrl.Cancel(ctx)

	case ActionSetMasterVolume:
		if msg.Volume == nil {
			return fmt.Errorf("%w: %s needs volume", errMissingField, msg.Action)
		}
		return d.ctrl.SetMasterVolume(ctx, int(*msg.Volume))

	case ActionSetTrackListVolume:
		if msg.GroupIndex == nil || msg.TrackListIndex == nil || msg.Volume == nil {
			return fmt.Errorf("%w: %s needs groupIndex, trackListIndex and volume", errMissingField, msg.Action)
		}
		return d.ctrl.SetTrackListVolume(ctx, int(*msg.GroupIndex), int(*msg.TrackListIndex), int(*msg.Volume))
	}
	return fmt.Errorf("%w: %q", errUnknownAction, msg.Action)
}
