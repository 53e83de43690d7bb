// ABOUTME: Test doubles for the Backend interface used across the chat package tests.
// ABOUTME: Scripted frame streams, a channel-backed live stream, and a function-field fake backend.

package chat

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/2389-research/parley/wire"
)

// frameStream yields a fixed frame script, then finErr (io.EOF by default).
type frameStream struct {
	frames []wire.StreamFrame
	finErr error
	pos    int
	closed bool
}

func newFrameStream(frames ...wire.StreamFrame) *frameStream {
	return &frameStream{frames: frames}
}

func (s *frameStream) Next() (wire.StreamFrame, error) {
	if s.pos >= len(s.frames) {
		if s.finErr != nil {
			return wire.StreamFrame{}, s.finErr
		}
		return wire.StreamFrame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *frameStream) Close() error {
	s.closed = true
	return nil
}

// chanStream delivers frames pushed from the test and honors cancellation.
type chanStream struct {
	ctx context.Context
	ch  chan wire.StreamFrame
}

func newChanStream(ctx context.Context) *chanStream {
	return &chanStream{ctx: ctx, ch: make(chan wire.StreamFrame, 16)}
}

func (s *chanStream) Next() (wire.StreamFrame, error) {
	select {
	case <-s.ctx.Done():
		return wire.StreamFrame{}, s.ctx.Err()
	case f, ok := <-s.ch:
		if !ok {
			return wire.StreamFrame{}, io.EOF
		}
		return f, nil
	}
}

func (s *chanStream) Close() error { return nil }

var errNotScripted = errors.New("not scripted")

// fakeBackend implements Backend via optional function fields.
type fakeBackend struct {
	sendFriend    func(ctx context.Context, friendID int64, req wire.SendMessageRequest) (Stream, error)
	regenerate    func(ctx context.Context, friendID, messageID int64, thinking bool) (Stream, error)
	recall        func(ctx context.Context, friendID, messageID int64) (wire.MessageRead, error)
	listMessages  func(ctx context.Context, friendID int64, skip, limit int) ([]wire.MessageRead, error)
	listSessions  func(ctx context.Context, friendID int64) ([]wire.ChatSession, error)
	newSession    func(ctx context.Context, friendID int64) (wire.ChatSession, error)
	sendGroup     func(ctx context.Context, groupID int64, req wire.GroupSendRequest) (Stream, error)
	listGroupMsgs func(ctx context.Context, groupID int64, skip, limit int) ([]wire.GroupMessageRead, error)
	getGroupMsg   func(ctx context.Context, groupID, messageID int64) (wire.GroupMessageRead, error)
	driveStart    func(ctx context.Context, req wire.AutoDriveStartRequest) (wire.AutoDriveStateRead, error)
	drivePause    func(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error)
	driveResume   func(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error)
	driveStop     func(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error)
	driveState    func(ctx context.Context, groupID int64) (*wire.AutoDriveStateRead, error)
	driveStream   func(ctx context.Context, groupID int64) (Stream, error)
	interject     func(ctx context.Context, req wire.AutoDriveInterjectRequest) (int64, error)
}

func (f *fakeBackend) SendFriendMessage(ctx context.Context, friendID int64, req wire.SendMessageRequest) (Stream, error) {
	if f.sendFriend == nil {
		return nil, errNotScripted
	}
	return f.sendFriend(ctx, friendID, req)
}

func (f *fakeBackend) RegenerateMessage(ctx context.Context, friendID, messageID int64, thinking bool) (Stream, error) {
	if f.regenerate == nil {
		return nil, errNotScripted
	}
	return f.regenerate(ctx, friendID, messageID, thinking)
}

func (f *fakeBackend) RecallMessage(ctx context.Context, friendID, messageID int64) (wire.MessageRead, error) {
	if f.recall == nil {
		return wire.MessageRead{}, errNotScripted
	}
	return f.recall(ctx, friendID, messageID)
}

func (f *fakeBackend) ListMessages(ctx context.Context, friendID int64, skip, limit int) ([]wire.MessageRead, error) {
	if f.listMessages == nil {
		return nil, errNotScripted
	}
	return f.listMessages(ctx, friendID, skip, limit)
}

func (f *fakeBackend) ListSessions(ctx context.Context, friendID int64) ([]wire.ChatSession, error) {
	if f.listSessions == nil {
		return nil, nil
	}
	return f.listSessions(ctx, friendID)
}

func (f *fakeBackend) StartNewSession(ctx context.Context, friendID int64) (wire.ChatSession, error) {
	if f.newSession == nil {
		return wire.ChatSession{}, errNotScripted
	}
	return f.newSession(ctx, friendID)
}

func (f *fakeBackend) SendGroupMessage(ctx context.Context, groupID int64, req wire.GroupSendRequest) (Stream, error) {
	if f.sendGroup == nil {
		return nil, errNotScripted
	}
	return f.sendGroup(ctx, groupID, req)
}

func (f *fakeBackend) ListGroupMessages(ctx context.Context, groupID int64, skip, limit int) ([]wire.GroupMessageRead, error) {
	if f.listGroupMsgs == nil {
		return nil, errNotScripted
	}
	return f.listGroupMsgs(ctx, groupID, skip, limit)
}

func (f *fakeBackend) GetGroupMessage(ctx context.Context, groupID, messageID int64) (wire.GroupMessageRead, error) {
	if f.getGroupMsg == nil {
		return wire.GroupMessageRead{}, errNotScripted
	}
	return f.getGroupMsg(ctx, groupID, messageID)
}

func (f *fakeBackend) AutoDriveStart(ctx context.Context, req wire.AutoDriveStartRequest) (wire.AutoDriveStateRead, error) {
	if f.driveStart == nil {
		return wire.AutoDriveStateRead{}, errNotScripted
	}
	return f.driveStart(ctx, req)
}

func (f *fakeBackend) AutoDrivePause(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error) {
	if f.drivePause == nil {
		return wire.AutoDriveStateRead{}, errNotScripted
	}
	return f.drivePause(ctx, groupID)
}

func (f *fakeBackend) AutoDriveResume(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error) {
	if f.driveResume == nil {
		return wire.AutoDriveStateRead{}, errNotScripted
	}
	return f.driveResume(ctx, groupID)
}

func (f *fakeBackend) AutoDriveStop(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error) {
	if f.driveStop == nil {
		return wire.AutoDriveStateRead{}, errNotScripted
	}
	return f.driveStop(ctx, groupID)
}

func (f *fakeBackend) AutoDriveState(ctx context.Context, groupID int64) (*wire.AutoDriveStateRead, error) {
	if f.driveState == nil {
		return nil, errNotScripted
	}
	return f.driveState(ctx, groupID)
}

func (f *fakeBackend) AutoDriveStream(ctx context.Context, groupID int64) (Stream, error) {
	if f.driveStream == nil {
		return nil, errNotScripted
	}
	return f.driveStream(ctx, groupID)
}

func (f *fakeBackend) AutoDriveInterject(ctx context.Context, req wire.AutoDriveInterjectRequest) (int64, error) {
	if f.interject == nil {
		return 0, errNotScripted
	}
	return f.interject(ctx, req)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
