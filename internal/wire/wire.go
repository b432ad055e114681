// Package wire defines the player's two external channels as plain Go
// interfaces: a Publisher that broadcasts State/RipState/Disc changes
// to any number of subscribers, and a CommandReceiver that feeds
// argv-shaped commands to a single handler and carries back its reply.
//
// Grounded on original_source/src/codplayer/zerohub.py's Topic (PUB/SUB
// fan-out, reinterpreted here as Publisher) and RPC/Queue (single
// listener, reinterpreted as CommandReceiver), and command.py's
// CommandReader argv framing and player.py's handle_command result-type
// switch (State -> "state", RipState -> "rip_state", a disc or the
// source command -> "disc", everything else -> "ok", a CommandError ->
// "error"). Two implementations exist: inproc.go (channel-based, used
// by every test) and internal/wire/wswire (websocket-based, used by
// cmd/codplayerd).
package wire

import (
	"context"
	"fmt"
	"strconv"

	"github.com/codplayer/codplayer/internal/model"
)

// Publisher broadcasts state changes to however many subscribers are
// currently listening. Implementations must never block the caller for
// long: a slow or absent subscriber drops frames rather than stalling
// the Player Supervisor.
type Publisher interface {
	PublishState(model.State)
	PublishRipState(model.RipState)
	PublishDisc(*model.Disc)
}

// Reply is one command's response, tagged with the wire frame type it
// must be sent as.
type Reply struct {
	Type  string // "state", "rip_state", "disc", "ok" or "error"
	Value any
}

// StateReply wraps a State response.
func StateReply(s model.State) Reply { return Reply{Type: "state", Value: s} }

// RipStateReply wraps a RipState response.
func RipStateReply(r model.RipState) Reply { return Reply{Type: "rip_state", Value: r} }

// DiscReply wraps a Disc response (d may be nil, serialized as null).
func DiscReply(d *model.Disc) Reply { return Reply{Type: "disc", Value: d} }

// OKReply wraps a void or plain-value response.
func OKReply(v any) Reply { return Reply{Type: "ok", Value: v} }

// ErrorReply wraps a failed command.
func ErrorReply(err error) Reply { return Reply{Type: "error", Value: err.Error()} }

func stateOrError(s model.State, err error) Reply {
	if err != nil {
		return ErrorReply(err)
	}
	return StateReply(s)
}

// CommandHandler executes one argv-shaped command and returns its
// reply. It never panics: an unknown command or bad argument must come
// back as an ErrorReply.
type CommandHandler func(cmd string, args []string) Reply

// CommandReceiver delivers commands to handle until ctx is done.
type CommandReceiver interface {
	Serve(ctx context.Context, handle CommandHandler) error
}

// Commander is the subset of *internal/player.Player each argv command
// in the table below maps onto.
type Commander interface {
	Disc(discID string) (model.State, error)
	Stop() (model.State, error)
	Play() (model.State, error)
	Pause() (model.State, error)
	PlayPause() (model.State, error)
	Next() (model.State, error)
	Prev() (model.State, error)
	PlayTrack(trackNum int) (model.State, error)
	Seek(seconds int) (model.State, error)
	Eject() model.State
	Ejected() model.State
	Quit() model.State
	State() model.State
	RipState() model.RipState
	Source() *model.Disc
	Version() string
}

// Dispatch builds a CommandHandler against c, the Go equivalent of
// player.py's setup_command_reciever dynamically discovering every
// cmd_* method: here the mapping is a plain switch instead of
// reflection, since Go has no Python-style dir() introspection and a
// fixed command set needs none.
func Dispatch(c Commander) CommandHandler {
	return func(cmd string, args []string) Reply {
		switch cmd {
		case "disc":
			id := ""
			if len(args) > 0 {
				id = args[0]
			}
			return stateOrError(c.Disc(id))
		case "stop":
			return stateOrError(c.Stop())
		case "play":
			return stateOrError(c.Play())
		case "pause":
			return stateOrError(c.Pause())
		case "play_pause":
			return stateOrError(c.PlayPause())
		case "next":
			return stateOrError(c.Next())
		case "prev":
			return stateOrError(c.Prev())
		case "play_track":
			n, err := intArg(args, "play_track")
			if err != nil {
				return ErrorReply(err)
			}
			return stateOrError(c.PlayTrack(n))
		case "seek":
			n, err := intArg(args, "seek")
			if err != nil {
				return ErrorReply(err)
			}
			return stateOrError(c.Seek(n))
		case "eject":
			return StateReply(c.Eject())
		case "ejected":
			return StateReply(c.Ejected())
		case "quit":
			return StateReply(c.Quit())
		case "state":
			return StateReply(c.State())
		case "rip_state":
			return RipStateReply(c.RipState())
		case "source":
			return DiscReply(c.Source())
		case "version":
			return OKReply(c.Version())
		default:
			return ErrorReply(fmt.Errorf("unknown command: %s", cmd))
		}
	}
}

func intArg(args []string, cmd string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s: missing argument", cmd)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid argument %q", cmd, args[0])
	}
	return n, nil
}
