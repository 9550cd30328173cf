package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/feed"
	"github.com/ashureev/roomrelay/internal/rooms"
	"github.com/ashureev/roomrelay/internal/store"
	"github.com/ashureev/roomrelay/internal/transport"
)

var testRooms = []domain.Room{
	{ID: "room1", Label: "Room 1"},
	{ID: "room2", Label: "Room 2"},
	{ID: "room3", Label: "Room 3"},
	{ID: "room4", Label: "Room 4"},
}

type fixture struct {
	repo     store.Repository
	tracker  *rooms.Tracker
	rec      *transport.Recorder
	hub      *feed.Hub
	workflow *Workflow
	clock    *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(t.TempDir() + "/relay.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	fake := clock.Fake(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	tracker := rooms.NewTracker(repo, clock.NewDayWindow(fake, time.UTC, 9*time.Hour), testRooms)
	rec := transport.NewRecorder(1)
	hub := feed.NewHub(32)
	return &fixture{
		repo:     repo,
		tracker:  tracker,
		rec:      rec,
		hub:      hub,
		workflow: NewWorkflow(repo, tracker, rec, testRooms, fake, hub),
		clock:    fake,
	}
}

func (f *fixture) selectRoom(t *testing.T, userID int64, room string) {
	t.Helper()
	require.NoError(t, f.tracker.RecordSelection(context.Background(), userID, room, "u"))
}

func TestBroadcastToAllWithOneFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)
	f.selectRoom(t, 1, "room1")
	f.selectRoom(t, 2, "room2")
	f.rec.FailChat(2, errors.New("Forbidden: bot was blocked by the user"))

	resp := f.workflow.StartAll(ctx)
	assert.Equal(t, msgPromptAll, resp.Text)
	assert.True(t, f.workflow.AwaitingMessage())

	resp, handled := f.workflow.Capture(ctx, domain.TextPayload("hi"))
	require.True(t, handled)
	assert.Contains(t, resp.Text, "all users")
	assert.Equal(t, domain.StageAwaitingConfirmation, f.workflow.Stage())

	report := f.workflow.Confirm(ctx)
	assert.Equal(t, "Message sent to 1 out of 2 all users.", report.Text)
	require.Len(t, report.Deliveries, 2)
	assert.Equal(t, int64(1), report.Deliveries[0].UserID)
	assert.NoError(t, report.Deliveries[0].Err)
	assert.True(t, domain.IsDelivery(report.Deliveries[1].Err))
	assert.Equal(t, domain.StageIdle, f.workflow.Stage())

	sent := f.rec.SentTo(1)
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", sent[0].Payload.Text)
}

func TestCancelThenConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)

	f.workflow.StartAll(ctx)
	assert.Equal(t, msgCancelled, f.workflow.Cancel(ctx).Text)
	assert.Nil(t, f.workflow.Pending())

	assert.Equal(t, msgNothingToSend, f.workflow.Confirm(ctx).Text)
	assert.Equal(t, msgNothingToCancel, f.workflow.Cancel(ctx).Text)
}

func TestConfirmWithNoRecipients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)
	f.selectRoom(t, 1, "room1")

	f.workflow.RequestRoom(ctx)
	f.workflow.SelectRoom(ctx, "room4")
	_, handled := f.workflow.Capture(ctx, domain.MediaPayload(domain.KindPhoto, "p", ""))
	require.True(t, handled)

	report := f.workflow.Confirm(ctx)
	assert.Equal(t, "No users in room4 found to send message to.", report.Text)
	assert.Empty(t, report.Deliveries)
	assert.Empty(t, f.rec.Sent())
	assert.Equal(t, domain.StageIdle, f.workflow.Stage())
}

func TestRoomBroadcastIncludesYesterdaysMembers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)
	f.selectRoom(t, 1, "room2")
	f.selectRoom(t, 2, "room3")
	f.clock.Advance(24 * time.Hour)

	resp := f.workflow.RequestRoom(ctx)
	require.NotNil(t, resp.Keyboard)
	assert.Equal(t, "admin_select_room1", resp.Keyboard.Rows[0][0].Data)
	assert.Equal(t, domain.StageAwaitingAudience, f.workflow.Stage())

	f.workflow.SelectRoom(ctx, "room2")
	f.workflow.Capture(ctx, domain.MediaPayload(domain.KindSticker, "s", ""))
	report := f.workflow.Confirm(ctx)

	assert.Equal(t, "Message sent to 1 out of 1 users in room2.", report.Text)
	sent := f.rec.SentTo(1)
	require.Len(t, sent, 1)
	assert.Equal(t, domain.KindSticker, sent[0].Payload.Kind)
	assert.False(t, sent[0].Markdown)
}

func TestUnsupportedCaptureKeepsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)

	f.workflow.StartAll(ctx)
	before := f.workflow.Pending()

	resp, handled := f.workflow.Capture(ctx, domain.Payload{Kind: domain.KindUnsupported})
	assert.True(t, handled)
	assert.Equal(t, msgUnsupported, resp.Text)

	after := f.workflow.Pending()
	assert.Equal(t, before, after)
	assert.True(t, f.workflow.AwaitingMessage())
}

func TestCaptureIgnoredWhenNotAwaiting(t *testing.T) {
	t.Parallel()
	f := setup(t)

	_, handled := f.workflow.Capture(context.Background(), domain.TextPayload("chatter"))
	assert.False(t, handled)
	assert.Equal(t, domain.StageIdle, f.workflow.Stage())
}

func TestStartWhileBusy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)

	f.workflow.StartAll(ctx)
	id := f.workflow.Pending().ID

	assert.Equal(t, msgBusy, f.workflow.RequestRoom(ctx).Text)
	assert.Equal(t, msgBusy, f.workflow.StartAll(ctx).Text)
	assert.Equal(t, msgBusy, f.workflow.SelectRoom(ctx, "room1").Text)
	assert.Equal(t, id, f.workflow.Pending().ID)
}

func TestConfirmBeforeCapture(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)

	f.workflow.StartAll(ctx)
	assert.Equal(t, msgNothingToSend, f.workflow.Confirm(ctx).Text)
	assert.True(t, f.workflow.AwaitingMessage(), "confirm without a message changes nothing")
}

func TestSelectUnknownRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)

	f.workflow.RequestRoom(ctx)
	resp := f.workflow.SelectRoom(ctx, "attic")
	assert.Contains(t, resp.Text, "Unknown room")
	assert.Equal(t, domain.StageAwaitingAudience, f.workflow.Stage())
}

func TestRestoreResumesDialogue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)
	f.selectRoom(t, 1, "room1")

	f.workflow.StartAll(ctx)
	f.workflow.Capture(ctx, domain.TextPayload("after restart"))

	restarted := NewWorkflow(f.repo, f.tracker, f.rec, testRooms, f.clock, f.hub)
	require.NoError(t, restarted.Restore(ctx))
	assert.Equal(t, domain.StageAwaitingConfirmation, restarted.Stage())

	report := restarted.Confirm(ctx)
	assert.Equal(t, "Message sent to 1 out of 1 all users.", report.Text)

	fresh := NewWorkflow(f.repo, f.tracker, f.rec, testRooms, f.clock, f.hub)
	require.NoError(t, fresh.Restore(ctx))
	assert.Equal(t, domain.StageIdle, fresh.Stage())
}

func TestConcurrentConfirmSendsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := setup(t)
	f.selectRoom(t, 1, "room1")

	f.workflow.StartAll(ctx)
	f.workflow.Capture(ctx, domain.TextPayload("once"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.workflow.Confirm(ctx)
		}()
	}
	wg.Wait()

	assert.Len(t, f.rec.SentTo(1), 1)
}

func TestParseRoomCallback(t *testing.T) {
	t.Parallel()

	room, ok := ParseRoomCallback("admin_select_room3")
	assert.True(t, ok)
	assert.Equal(t, "room3", room)

	_, ok = ParseRoomCallback("room3")
	assert.False(t, ok)
}
