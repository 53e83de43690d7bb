// ABOUTME: Backend interface the chat engine drives, plus shared controller options and errors.
// ABOUTME: The api package provides the HTTP implementation; tests substitute scripted fakes.

package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/2389-research/parley/wire"
)

// ErrBusy is returned when a send is attempted on a conversation that
// already has a user-initiated stream in flight.
var ErrBusy = errors.New("chat: send already in flight")

// Stream is a pull-based sequence of decoded chat stream frames.
// Next returns io.EOF when the server finishes the stream cleanly; any
// other error means the transport failed mid-stream.
type Stream interface {
	Next() (wire.StreamFrame, error)
	Close() error
}

// Backend is the server API surface the chat engine depends on.
type Backend interface {
	// Direct chat.
	SendFriendMessage(ctx context.Context, friendID int64, req wire.SendMessageRequest) (Stream, error)
	RegenerateMessage(ctx context.Context, friendID, messageID int64, enableThinking bool) (Stream, error)
	RecallMessage(ctx context.Context, friendID, messageID int64) (wire.MessageRead, error)
	ListMessages(ctx context.Context, friendID int64, skip, limit int) ([]wire.MessageRead, error)
	ListSessions(ctx context.Context, friendID int64) ([]wire.ChatSession, error)
	StartNewSession(ctx context.Context, friendID int64) (wire.ChatSession, error)

	// Group chat.
	SendGroupMessage(ctx context.Context, groupID int64, req wire.GroupSendRequest) (Stream, error)
	ListGroupMessages(ctx context.Context, groupID int64, skip, limit int) ([]wire.GroupMessageRead, error)
	GetGroupMessage(ctx context.Context, groupID, messageID int64) (wire.GroupMessageRead, error)

	// Auto-drive.
	AutoDriveStart(ctx context.Context, req wire.AutoDriveStartRequest) (wire.AutoDriveStateRead, error)
	AutoDrivePause(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error)
	AutoDriveResume(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error)
	AutoDriveStop(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error)
	// AutoDriveState returns the group's current run snapshot, or nil when
	// the server reports no active run.
	AutoDriveState(ctx context.Context, groupID int64) (*wire.AutoDriveStateRead, error)
	AutoDriveStream(ctx context.Context, groupID int64) (Stream, error)
	AutoDriveInterject(ctx context.Context, req wire.AutoDriveInterjectRequest) (int64, error)
}

// Options configures a controller's environment hooks. Zero values are
// usable: time defaults to the wall clock and the focus and attention hooks
// to no-ops.
type Options struct {
	// Now supplies timestamps for locally created messages.
	Now func() time.Time
	// Focused reports whether the app window currently has focus. Replies
	// that arrive while unfocused trigger the Attention hook.
	Focused func() bool
	// Attention is called when a finished reply may deserve a desktop-level
	// notification for its conversation.
	Attention func(ConvKey)
	// EnableThinking asks the server to stream reasoning deltas.
	EnableThinking bool
	// Logger receives absorbed stream errors. Defaults to log.Default().
	Logger *log.Logger
}

func (o *Options) fill() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Focused == nil {
		o.Focused = func() bool { return true }
	}
	if o.Attention == nil {
		o.Attention = func(ConvKey) {}
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// errorNotice renders a structured server failure as message content.
func errorNotice(detail string) string {
	return "[error: " + detail + "]"
}

// interruptNotice is the content annotation for a transport drop.
const interruptNotice = "[connection interrupted]"

// isStreamEnd reports whether a Next error is a clean end of stream.
func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF)
}
