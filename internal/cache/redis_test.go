package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"contractflow/api/internal/resolve"
	"contractflow/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := New("redis://"+s.Addr(), time.Minute, nil)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not a url", time.Minute, nil); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	if _, ok := c.GetRecord(ctx, resolve.Influencers, "inf-1"); ok {
		t.Fatal("expected miss before set")
	}

	c.SetRecord(ctx, resolve.Influencers, "inf-1", resolve.Record{"full_name": "Ana"})

	rec, ok := c.GetRecord(ctx, resolve.Influencers, "inf-1")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if rec["full_name"] != "Ana" {
		t.Errorf("unexpected record %#v", rec)
	}
	if _, ok := c.GetRecord(ctx, resolve.Campaigns, "inf-1"); ok {
		t.Error("collections must not share keys")
	}
}

func TestRecordExpires(t *testing.T) {
	c, s := setupTestRedis(t)
	ctx := context.Background()

	c.SetRecord(ctx, resolve.Campaigns, "camp-1", resolve.Record{"title": "Spring"})
	s.FastForward(2 * time.Minute)

	if _, ok := c.GetRecord(ctx, resolve.Campaigns, "camp-1"); ok {
		t.Error("expected record to expire")
	}
}

func TestMalformedEntriesAreMisses(t *testing.T) {
	c, s := setupTestRedis(t)
	ctx := context.Background()

	if err := s.Set(overrideKey("k1"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Set(recordKey(resolve.Companies, "co-1"), "[1,2"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, ok := c.GetOverride(ctx, "k1"); ok {
		t.Error("expected malformed override to be a miss")
	}
	if _, ok := c.GetRecord(ctx, resolve.Companies, "co-1"); ok {
		t.Error("expected malformed record to be a miss")
	}
	if s.Exists(overrideKey("k1")) {
		t.Error("expected malformed entry to be dropped")
	}
}

func TestOverrideRoundTripAndInvalidate(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()
	v := "A.Ray"

	c.SetOverride(ctx, store.OverrideRecord{
		CollaborationKey: "k1",
		Variables:        map[string]*string{"signature_0": &v, "signature_1": nil},
		RenderedHTML:     "<p>x</p>",
		ShareToken:       "tok",
	})

	got, ok := c.GetOverride(ctx, "k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.ShareToken != "tok" || got.RenderedHTML != "<p>x</p>" {
		t.Errorf("unexpected override %+v", got)
	}
	if got.Variables["signature_0"] == nil || *got.Variables["signature_0"] != "A.Ray" || got.Variables["signature_1"] != nil {
		t.Errorf("unexpected variables %#v", got.Variables)
	}

	c.InvalidateOverride(ctx, "k1")
	if _, ok := c.GetOverride(ctx, "k1"); ok {
		t.Error("expected miss after invalidate")
	}
}

func TestUnavailableRedisIsAMiss(t *testing.T) {
	c, s := setupTestRedis(t)
	s.Close()

	if _, ok := c.GetRecord(context.Background(), resolve.Campaigns, "x"); ok {
		t.Error("expected miss when redis is down")
	}
	c.SetRecord(context.Background(), resolve.Campaigns, "x", resolve.Record{"a": 1})
}
