package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeduplicator_WindowBoundary(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 6, 20, 18, 0, 0, 0, time.UTC)
	st := NewInMemoryStore()
	require.NoError(t, st.InsertMany(context.Background(), []Record{{
		ID:          "r1",
		RecipientID: "U1",
		Title:       "t",
		Message:     "Arta u përgjigj në ftesë: Po vjen.",
		CreatedAt:   base,
	}}))

	tests := []struct {
		name      string
		now       time.Time
		recipient string
		message   string
		want      bool
	}{
		{name: "same instant", now: base, recipient: "U1", message: "Arta u përgjigj në ftesë: Po vjen.", want: true},
		{name: "inside window", now: base.Add(299 * time.Second), recipient: "U1", message: "Arta u përgjigj në ftesë: Po vjen.", want: true},
		{name: "exactly window", now: base.Add(300 * time.Second), recipient: "U1", message: "Arta u përgjigj në ftesë: Po vjen.", want: true},
		{name: "window plus epsilon", now: base.Add(300*time.Second + time.Millisecond), recipient: "U1", message: "Arta u përgjigj në ftesë: Po vjen.", want: false},
		{name: "other recipient", now: base, recipient: "U2", message: "Arta u përgjigj në ftesë: Po vjen.", want: false},
		{name: "other message", now: base, recipient: "U1", message: "Arta u përgjigj në ftesë: Nuk vjen.", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			now := tc.now
			d := NewDeduplicator(st, 0, func() time.Time { return now })
			require.Equal(t, DefaultDedupWindow, d.Window())

			got, err := d.ShouldSuppress(context.Background(), tc.message, tc.recipient)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDeduplicator_CustomWindow(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 6, 20, 18, 0, 0, 0, time.UTC)
	st := NewInMemoryStore()
	require.NoError(t, st.InsertMany(context.Background(), []Record{{
		ID: "r1", RecipientID: "U1", Message: "m", CreatedAt: base,
	}}))

	d := NewDeduplicator(st, time.Minute, func() time.Time { return base.Add(2 * time.Minute) })

	got, err := d.ShouldSuppress(context.Background(), "m", "U1")
	require.NoError(t, err)
	require.False(t, got)

	got, err = d.ShouldSuppressWithin(context.Background(), "m", "U1", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, got)
}

func TestDeduplicator_RejectsEmptyInput(t *testing.T) {
	t.Parallel()

	d := NewDeduplicator(NewInMemoryStore(), 0, nil)
	_, err := d.ShouldSuppress(context.Background(), "", "U1")
	require.ErrorIs(t, err, ErrInvalidInput)

	var nilDedup *Deduplicator
	_, err = nilDedup.ShouldSuppress(context.Background(), "m", "U1")
	require.ErrorIs(t, err, ErrStoreNotConfigured)
}
