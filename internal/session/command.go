package session

import (
	"fmt"

	"github.com/soracane/utaq/internal/structures"
)

// CommandKind enumerates the session command surface.
type CommandKind int

const (
	CmdEnableShuffle CommandKind = iota
	CmdDisableShuffle
	CmdSaveQueue
	CmdDeleteQueue
	CmdClearQueue
	CmdMoveItem
	CmdRemoveItem
	CmdQueueVideo
	CmdSaveVideoToPlaylist
	CmdLoadPlaylist
	CmdGenerateNew
	CmdGenerateRecommended
	CmdGenerateHistorical
	CmdGenerateContinue
	CmdPlay
	CmdPause
	CmdStop
	CmdNext
	CmdPrevious
	CmdSkipToItem
	CmdSeekTo
)

var commandNames = map[CommandKind]string{
	CmdEnableShuffle:       "enable_shuffle",
	CmdDisableShuffle:      "disable_shuffle",
	CmdSaveQueue:           "save_queue",
	CmdDeleteQueue:         "delete_queue",
	CmdClearQueue:          "clear_queue",
	CmdMoveItem:            "move_item",
	CmdRemoveItem:          "remove_item",
	CmdQueueVideo:          "queue_video",
	CmdSaveVideoToPlaylist: "save_video_to_playlist",
	CmdLoadPlaylist:        "load_playlist",
	CmdGenerateNew:         "generate_new_playlist",
	CmdGenerateRecommended: "generate_recommended_playlist",
	CmdGenerateHistorical:  "generate_historical_playlist",
	CmdGenerateContinue:    "generate_continue_playlist",
	CmdPlay:                "play",
	CmdPause:               "pause",
	CmdStop:                "stop",
	CmdNext:                "next",
	CmdPrevious:            "previous",
	CmdSkipToItem:          "skip_to_item",
	CmdSeekTo:              "seek_to",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(k))
}

// QueuePlacement says where a queued video lands.
type QueuePlacement int

const (
	// PlaceNew replaces the queue with the single video and starts playback.
	PlaceNew QueuePlacement = iota
	// PlaceNext inserts directly after the current item.
	PlaceNext
	// PlaceLast appends at the end.
	PlaceLast
)

// Command is one request to the session loop. Only the fields relevant to
// the Kind need to be set.
type Command struct {
	Kind CommandKind

	Name       string           // playlist name for save/delete/load
	Track      structures.Track // queue_video, save_video_to_playlist
	Placement  QueuePlacement   // queue_video
	MediaID    string           // move_item
	ToPosition int              // move_item
	Index      int              // remove_item, skip_to_item
	SeedURL    string           // generate_new_playlist
	PositionMs int64            // seek_to

	reply chan Result
}

// ResultCode is the outcome class of a command.
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultCanceled
)

func (c ResultCode) String() string {
	if c == ResultOK {
		return "ok"
	}
	return "canceled"
}

// Result echoes the command name so callers can correlate replies.
type Result struct {
	Code    ResultCode
	Command string
}
