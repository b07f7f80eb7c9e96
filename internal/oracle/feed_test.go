package oracle_test

import (
	"testing"
	"time"

	"PerpAmm/internal/fixed"
	"PerpAmm/internal/oracle"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ==== updates ====

func TestFeedEmptyDefaults(t *testing.T) {
	feed := oracle.NewFeed(time.Hour)
	if !feed.CurrentPrice().IsZero() {
		t.Error("empty feed reports a price")
	}
	if !feed.LatestTimestamp().IsZero() {
		t.Error("empty feed reports a timestamp")
	}
	if !feed.TwapPrice(time.Hour).IsZero() {
		t.Error("empty feed reports a TWAP")
	}
}

func TestFeedUpdate(t *testing.T) {
	feed := oracle.NewFeed(time.Hour)
	feed.Update(fixed.New(10), t0)
	feed.Update(fixed.New(12), t0.Add(time.Minute))

	if got := feed.CurrentPrice(); !got.Equal(fixed.New(12)) {
		t.Fatalf("current price = %s, want 12", got)
	}
	if got := feed.LatestTimestamp(); !got.Equal(t0.Add(time.Minute)) {
		t.Fatalf("latest timestamp = %s", got)
	}
}

func TestFeedDropsOutOfOrder(t *testing.T) {
	feed := oracle.NewFeed(time.Hour)
	feed.Update(fixed.New(10), t0.Add(time.Minute))
	feed.Update(fixed.New(99), t0)
	feed.Update(fixed.New(98), t0.Add(time.Minute))

	if got := feed.CurrentPrice(); !got.Equal(fixed.New(10)) {
		t.Fatalf("current price = %s, want 10 (stale updates dropped)", got)
	}
}

// ==== twap ====

func TestFeedTwapSingleSample(t *testing.T) {
	feed := oracle.NewFeed(time.Hour)
	feed.Update(fixed.New(10), t0)
	if got := feed.TwapPrice(15 * time.Minute); !got.Equal(fixed.New(10)) {
		t.Fatalf("twap = %s, want 10", got)
	}
}

func TestFeedTwapTimeWeighted(t *testing.T) {
	feed := oracle.NewFeed(time.Hour)
	feed.Update(fixed.New(10), t0)
	feed.Update(fixed.New(12), t0.Add(10*time.Minute))
	feed.Update(fixed.New(14), t0.Add(20*time.Minute))

	// 10 minutes at 10, then 10 minutes at 12: (10*600 + 12*600) / 1200
	if got := feed.TwapPrice(20 * time.Minute); !got.Equal(fixed.New(11)) {
		t.Fatalf("twap = %s, want 11", got)
	}
}

func TestFeedTwapExtendsEarliestSample(t *testing.T) {
	feed := oracle.NewFeed(time.Hour)
	feed.Update(fixed.New(10), t0)
	feed.Update(fixed.New(12), t0.Add(10*time.Minute))
	feed.Update(fixed.New(14), t0.Add(20*time.Minute))

	// Interval reaches past the first sample; its price covers the gap:
	// (10*1800 + 12*600) / 2400 = 10.5
	if got := feed.TwapPrice(40 * time.Minute); !got.Equal(fixed.MustFromStr("10.5")) {
		t.Fatalf("twap = %s, want 10.5", got)
	}
}

// ==== static feed ====

func TestStaticFeed(t *testing.T) {
	feed := oracle.NewStaticFeed(fixed.New(10), t0)
	if got := feed.TwapPrice(time.Hour); !got.Equal(fixed.New(10)) {
		t.Fatalf("twap = %s, want 10", got)
	}

	feed.SetTwap(fixed.New(11))
	if got := feed.CurrentPrice(); !got.Equal(fixed.New(10)) {
		t.Fatalf("spot changed with SetTwap: %s", got)
	}
	if got := feed.TwapPrice(time.Hour); !got.Equal(fixed.New(11)) {
		t.Fatalf("twap = %s, want 11", got)
	}

	feed.Set(fixed.New(12), t0.Add(time.Minute))
	if got := feed.TwapPrice(time.Hour); !got.Equal(fixed.New(12)) {
		t.Fatalf("twap after Set = %s, want 12", got)
	}
}
