package approval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSweepCancelsExpiredAndNotifies(t *testing.T) {
	store, clock := newTestStore()
	agency := uuid.New()
	ctx := context.Background()

	stale, _ := store.Create(ctx, budgetDraft(agency))
	clock.Advance(12 * time.Hour)
	fresh, _ := store.Create(ctx, budgetDraft(agency))
	clock.Advance(12 * time.Hour)

	var seen []uuid.UUID
	sweeper := NewSweeper(store, time.Hour, clock.Now, func(ctx context.Context, rec Record) {
		seen = append(seen, rec.ID)
	})

	assert.Equal(t, 1, sweeper.Sweep(ctx))
	assert.Equal(t, []uuid.UUID{stale}, seen)

	rec, _ := store.Get(ctx, agency, stale)
	assert.Equal(t, StatusCancelled, rec.Status)
	rec, _ = store.Get(ctx, agency, fresh)
	assert.Equal(t, StatusPending, rec.Status)

	assert.Equal(t, 0, sweeper.Sweep(ctx), "a second sweep finds nothing")
}

func TestSweeperStartStop(t *testing.T) {
	store, clock := newTestStore()
	store.Create(context.Background(), budgetDraft(uuid.New()))
	clock.Advance(25 * time.Hour)

	swept := make(chan struct{}, 1)
	sweeper := NewSweeper(store, time.Hour, clock.Now, func(ctx context.Context, rec Record) {
		swept <- struct{}{}
	})
	sweeper.Start()
	defer sweeper.Stop()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run on start")
	}
}
