//go:build integration

package test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"nudge/internal/db"
)

func TestJobLease_SingleWinnerUnderContention(t *testing.T) {
	pool := openPool(t)
	repo := db.NewJobLeaseRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	const racers = 10
	var wg sync.WaitGroup
	winners := make(chan string, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("owner-%d", i)
			acquired, err := repo.Acquire(ctx, "reminders", owner, now, time.Minute)
			if err != nil {
				t.Errorf("acquire %s: %v", owner, err)
				return
			}
			if acquired {
				winners <- owner
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	var won []string
	for owner := range winners {
		won = append(won, owner)
	}
	if len(won) != 1 {
		t.Fatalf("got %d acquisitions, want exactly 1: %v", len(won), won)
	}

	// The stored row agrees with the reported winner.
	lease, err := repo.Get(ctx, "reminders")
	if err != nil {
		t.Fatalf("reading lease row: %v", err)
	}
	if lease == nil || lease.OwnerID != won[0] {
		t.Errorf("stored lease %+v does not match winner %s", lease, won[0])
	}
}

func TestJobLease_ExpiryAllowsTakeoverWithoutRelease(t *testing.T) {
	pool := openPool(t)
	repo := db.NewJobLeaseRepository(pool)
	ctx := context.Background()
	base := time.Now().UTC()

	acquired, err := repo.Acquire(ctx, "digests", "owner-a", base, time.Second)
	if err != nil || !acquired {
		t.Fatalf("initial acquire: got (%v, %v), want (true, nil)", acquired, err)
	}

	// Inside the TTL a second owner is blocked.
	acquired, err = repo.Acquire(ctx, "digests", "owner-b", base.Add(500*time.Millisecond), time.Minute)
	if err != nil {
		t.Fatalf("contended acquire: %v", err)
	}
	if acquired {
		t.Fatal("an unexpired lease must block other owners")
	}

	// Past locked_until, with no release ever issued, the takeover applies.
	acquired, err = repo.Acquire(ctx, "digests", "owner-b", base.Add(2*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("takeover acquire: %v", err)
	}
	if !acquired {
		t.Fatal("an expired lease must be reclaimable without a release")
	}

	lease, err := repo.Get(ctx, "digests")
	if err != nil {
		t.Fatalf("reading lease row: %v", err)
	}
	if lease == nil || lease.OwnerID != "owner-b" {
		t.Errorf("got lease %+v, want owner-b", lease)
	}

	// The dethroned owner's release is owner-scoped and matches nothing.
	released, err := repo.Release(ctx, "digests", "owner-a")
	if err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if released {
		t.Error("a dethroned owner must not release the new owner's lease")
	}
	if lease, _ := repo.Get(ctx, "digests"); lease == nil || lease.OwnerID != "owner-b" {
		t.Error("owner-b's lease must survive the stale release")
	}
}
