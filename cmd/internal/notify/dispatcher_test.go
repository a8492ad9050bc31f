package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dasma/cmd/internal/notify"
	"dasma/cmd/internal/notify/mocks"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var fixedNow = time.Date(2026, 6, 20, 18, 0, 0, 0, time.UTC)

func newWeddingStore() *notify.InMemoryStore {
	st := notify.NewInMemoryStore()
	st.AddProject("proj-1", "U1")
	st.AddCollaborator("proj-1", "U2", notify.RolePlanner)
	st.SetEmail("U1", "owner@example.com")
	st.SetEmail("U2", "planner@example.com")
	return st
}

func newDispatcher(t *testing.T, st *notify.InMemoryStore, opts ...notify.Option) *notify.Dispatcher {
	t.Helper()

	base := []notify.Option{
		notify.WithLogger(slog.New(slog.DiscardHandler)),
		notify.WithClock(func() time.Time { return fixedNow }),
		notify.WithLocale("sq"),
	}
	d, err := notify.NewDispatcher(st, st, append(base, opts...)...)
	require.NoError(t, err)
	return d
}

func artaAttending() notify.RSVPEvent {
	return notify.RSVPEvent{
		ProjectID:  "proj-1",
		Status:     notify.StatusAttending,
		GuestNames: []string{"Arta Krasniqi"},
		GuestCount: 1,
	}
}

func byChannel(rep notify.Report, ch notify.Channel) []notify.Delivery {
	var out []notify.Delivery
	for _, d := range rep.Deliveries {
		if d.Channel == ch {
			out = append(out, d)
		}
	}
	return out
}

func TestDispatcher_RSVPEndToEnd(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	email := mocks.NewMockEmailProvider(ctrl)
	email.EXPECT().Name().Return("mock").AnyTimes()

	var (
		mu   sync.Mutex
		sent []notify.Email
	)
	email.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m notify.Email) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, m)
		return nil
	}).Times(2)

	push := mocks.NewMockPushSender(ctrl)
	push.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	st := newWeddingStore()
	d := newDispatcher(t, st, notify.WithEmail(email), notify.WithPush(push))

	rep := d.Notify(context.Background(), artaAttending())
	require.NoError(t, rep.Err)
	require.Equal(t, []string{"U1", "U2"}, rep.Recipients)
	require.Empty(t, rep.Suppressed)
	require.Len(t, rep.Created, 2)
	require.Zero(t, rep.Failed())

	for _, uid := range []string{"U1", "U2"} {
		recs, err := st.ListByRecipient(context.Background(), notify.ListInput{RecipientID: uid})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.False(t, recs[0].Seen)
		require.Contains(t, recs[0].Title, "Arta Krasniqi")
		require.Contains(t, recs[0].Title, "Po vjen")
		require.Equal(t, fixedNow, recs[0].CreatedAt)
	}

	require.ElementsMatch(t,
		[]string{"owner@example.com", "planner@example.com"},
		[]string{sent[0].To, sent[1].To},
	)
	require.Empty(t, byChannel(rep, notify.ChannelPush))
}

func TestDispatcher_RepeatWithinWindowIsSuppressed(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	email := mocks.NewMockEmailProvider(ctrl)
	email.EXPECT().Name().Return("mock").AnyTimes()
	email.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	st := newWeddingStore()
	d := newDispatcher(t, st, notify.WithEmail(email))

	first := d.Notify(context.Background(), artaAttending())
	require.Len(t, first.Created, 2)

	second := d.Notify(context.Background(), artaAttending())
	require.Equal(t, []string{"U1", "U2"}, second.Suppressed)
	require.Empty(t, second.Created)
	require.Empty(t, second.Deliveries)

	recs, err := st.ListByRecipient(context.Background(), notify.ListInput{RecipientID: "U1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestDispatcher_ChannelFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	email := mocks.NewMockEmailProvider(ctrl)
	email.EXPECT().Name().Return("mock").AnyTimes()
	email.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m notify.Email) error {
		if m.To == "owner@example.com" {
			return errors.New("mailbox unavailable")
		}
		return nil
	}).Times(2)

	push := mocks.NewMockPushSender(ctrl)
	push.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, sub notify.PushSubscription, payload []byte) error {
			var body map[string]string
			require.NoError(t, json.Unmarshal(payload, &body))
			require.Contains(t, body["title"], "Arta Krasniqi")
			require.Equal(t, "https://dasma.app/guests", body["url"])
			if sub.Endpoint == "https://push.example/gone" {
				return notify.DeliveryError{Channel: notify.ChannelPush, Err: errors.New("410 gone")}
			}
			return nil
		}).Times(3)

	st := newWeddingStore()
	st.AddPushSubscription(notify.PushSubscription{RecipientID: "U1", Endpoint: "https://push.example/gone"})
	st.AddPushSubscription(notify.PushSubscription{RecipientID: "U1", Endpoint: "https://push.example/laptop"})
	st.AddPushSubscription(notify.PushSubscription{RecipientID: "U2", Endpoint: "https://push.example/phone"})

	d := newDispatcher(t, st,
		notify.WithEmail(email),
		notify.WithPush(push),
		notify.WithDeepLink("https://dasma.app/guests"),
	)

	rep := d.Notify(context.Background(), artaAttending())
	require.Len(t, rep.Created, 2, "in-app records are written regardless of channel outcome")
	require.Equal(t, 2, rep.Failed())

	emails := byChannel(rep, notify.ChannelEmail)
	require.Len(t, emails, 2)
	require.Error(t, emails[0].Err)
	require.Equal(t, "U1", emails[0].Recipient)
	require.NoError(t, emails[1].Err)
	require.Equal(t, "U2", emails[1].Recipient)

	pushes := byChannel(rep, notify.ChannelPush)
	require.Len(t, pushes, 3)
	var de notify.DeliveryError
	require.ErrorAs(t, pushes[0].Err, &de)
	require.NoError(t, pushes[1].Err)
	require.NoError(t, pushes[2].Err)
}

func TestDispatcher_ExtraAndFallbackEmails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(st *notify.InMemoryStore)
		want  []string
	}{
		{
			name:  "stored emails plus extras",
			setup: func(*notify.InMemoryStore) {},
			want:  []string{"owner@example.com", "planner@example.com", "studio@example.com"},
		},
		{
			name: "fallback when nobody has an email",
			setup: func(st *notify.InMemoryStore) {
				st.SetEmail("U1", "")
				st.SetEmail("U2", "")
			},
			want: []string{"fallback@example.com", "studio@example.com", "OWNER@example.com"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			email := mocks.NewMockEmailProvider(ctrl)
			email.EXPECT().Name().Return("mock").AnyTimes()

			var got []string
			email.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m notify.Email) error {
				got = append(got, m.To)
				return nil
			}).Times(len(tc.want))

			st := newWeddingStore()
			tc.setup(st)
			d := newDispatcher(t, st,
				notify.WithEmail(email),
				notify.WithExtraEmails("studio@example.com, OWNER@example.com"),
				notify.WithFallbackEmail("fallback@example.com"),
			)

			d.Notify(context.Background(), artaAttending())
			require.Equal(t, tc.want, got)
		})
	}
}

type brokenDedupStore struct {
	*notify.InMemoryStore
}

func (brokenDedupStore) ExistsSince(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("statement timeout")
}

func TestDispatcher_DedupErrorFailsOpen(t *testing.T) {
	t.Parallel()

	mem := newWeddingStore()
	st := brokenDedupStore{InMemoryStore: mem}

	d, err := notify.NewDispatcher(st, mem,
		notify.WithLogger(slog.New(slog.DiscardHandler)),
		notify.WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)

	first := d.Notify(context.Background(), artaAttending())
	second := d.Notify(context.Background(), artaAttending())
	require.Len(t, first.Created, 2)
	require.Len(t, second.Created, 2)
}

func TestDispatcher_UnknownProjectDoesNotPanic(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, newWeddingStore())
	rep := d.Notify(context.Background(), notify.RSVPEvent{ProjectID: "nope", Status: notify.StatusMaybe})
	require.ErrorIs(t, rep.Err, notify.ErrNotFound)
	require.Empty(t, rep.Recipients)
	require.Empty(t, rep.Created)
}

type slowDedupStore struct {
	*notify.InMemoryStore
}

func (s slowDedupStore) ExistsSince(ctx context.Context, recipientID, message string, since time.Time) (bool, error) {
	time.Sleep(20 * time.Millisecond)
	return s.InMemoryStore.ExistsSince(ctx, recipientID, message, since)
}

func TestDispatcher_ConcurrentIdenticalEventsInsertOnce(t *testing.T) {
	t.Parallel()

	mem := newWeddingStore()
	d, err := notify.NewDispatcher(slowDedupStore{InMemoryStore: mem}, mem,
		notify.WithLogger(slog.New(slog.DiscardHandler)),
		notify.WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.True(t, d.Go(artaAttending()))
	}
	d.Wait()

	for _, uid := range []string{"U1", "U2"} {
		recs, err := mem.ListByRecipient(context.Background(), notify.ListInput{RecipientID: uid})
		require.NoError(t, err)
		require.Len(t, recs, 1, "recipient %s", uid)
	}
}

// racedStore behaves as if another process stored U1's record between the
// dedup check and the write.
type racedStore struct {
	*notify.InMemoryStore
}

func (s racedStore) InsertAbsent(ctx context.Context, recs []notify.Record, _ time.Time) ([]notify.Record, error) {
	var kept []notify.Record
	for _, r := range recs {
		if r.RecipientID != "U1" {
			kept = append(kept, r)
		}
	}
	if err := s.InsertMany(ctx, kept); err != nil {
		return nil, err
	}
	return kept, nil
}

func TestDispatcher_ConditionalInsertLosersAreSuppressed(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	email := mocks.NewMockEmailProvider(ctrl)
	email.EXPECT().Name().Return("mock").AnyTimes()
	email.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m notify.Email) error {
		require.Equal(t, "planner@example.com", m.To)
		return nil
	}).Times(1)

	mem := newWeddingStore()
	d, err := notify.NewDispatcher(racedStore{InMemoryStore: mem}, mem,
		notify.WithLogger(slog.New(slog.DiscardHandler)),
		notify.WithClock(func() time.Time { return fixedNow }),
		notify.WithEmail(email),
	)
	require.NoError(t, err)

	rep := d.Notify(context.Background(), artaAttending())
	require.Equal(t, []string{"U1"}, rep.Suppressed)
	require.Len(t, rep.Created, 1)
	require.Equal(t, "U2", rep.Created[0].RecipientID)
}

type recordingPublisher struct {
	mu   sync.Mutex
	recs []notify.Record
}

func (p *recordingPublisher) Publish(rec notify.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
}

func TestDispatcher_GoAndWait(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	d := newDispatcher(t, newWeddingStore(), notify.WithPublisher(pub))

	require.True(t, d.Go(artaAttending()))
	d.Wait()

	pub.mu.Lock()
	require.Len(t, pub.recs, 2)
	pub.mu.Unlock()

	require.False(t, d.Go(artaAttending()), "dispatcher accepts no work after Wait")
}

func TestReport_JSONCarriesErrors(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(notify.Delivery{
		Channel:   notify.ChannelEmail,
		Recipient: "U1",
		Target:    "owner@example.com",
		Err:       errors.New("boom"),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"channel":"email","recipient":"U1","target":"owner@example.com","error":"boom"}`, string(raw))
}
