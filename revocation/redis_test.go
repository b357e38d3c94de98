package revocation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb, RedisOptions{Prefix: "t", OpTimeout: time.Second})
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testRecord() Record {
	return Record{Subject: "user-1", ExpiresAt: time.UnixMilli(1_900_000_000_000)}
}

func TestPutTakeRoundTrip(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "jti-1", testRecord(), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL("{t}:rt:jti-1"); ttl != time.Hour {
		t.Fatalf("expected record ttl 1h, got %v", ttl)
	}
	if ok, _ := mr.SIsMember("{t}:rts:user-1", "jti-1"); !ok {
		t.Fatal("expected jti in subject index")
	}

	rec, err := store.Take(ctx, "jti-1")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if rec.Subject != "user-1" || !rec.ExpiresAt.Equal(testRecord().ExpiresAt) {
		t.Fatalf("unexpected record %+v", rec)
	}
	if mr.Exists("{t}:rt:jti-1") {
		t.Fatal("record should be gone after take")
	}
	if ok, _ := mr.SIsMember("{t}:rts:user-1", "jti-1"); ok {
		t.Fatal("take should drop the jti from the subject index")
	}

	if _, err := store.Take(ctx, "jti-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second take: expected ErrNotFound, got %v", err)
	}
}

func TestRecordExpiresWithTTL(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "jti-ttl", testRecord(), 2*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.FastForward(3 * time.Second)

	if _, err := store.Take(ctx, "jti-ttl"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired record to be gone, got %v", err)
	}
}

func TestIndexTTLTracksLongestRecord(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "long", testRecord(), time.Hour); err != nil {
		t.Fatalf("put long: %v", err)
	}
	if err := store.Put(ctx, "short", testRecord(), time.Minute); err != nil {
		t.Fatalf("put short: %v", err)
	}
	if ttl := mr.TTL("{t}:rts:user-1"); ttl != time.Hour {
		t.Fatalf("index ttl should not shrink, got %v", ttl)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "jti-del", testRecord(), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Delete(ctx, "jti-del"); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	live, err := store.Exists(ctx, "jti-del")
	if err != nil || live {
		t.Fatalf("expected revoked record, live=%v err=%v", live, err)
	}
}

func TestRevokeSubject(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	for _, jti := range []string{"a", "b", "c"} {
		if err := store.Put(ctx, jti, testRecord(), time.Hour); err != nil {
			t.Fatalf("put %s: %v", jti, err)
		}
	}
	other := Record{Subject: "user-2", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Put(ctx, "d", other, time.Hour); err != nil {
		t.Fatalf("put d: %v", err)
	}
	// An index entry whose record already expired is skipped in the count.
	mr.Del("{t}:rt:c")

	n, err := store.RevokeSubject(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoke subject: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 live records revoked, got %d", n)
	}
	if mr.Exists("{t}:rts:user-1") {
		t.Fatal("subject index should be removed")
	}
	if live, _ := store.Exists(ctx, "d"); !live {
		t.Fatal("other subject's record must survive")
	}
}

// hashTag returns the part of key Redis Cluster hashes to pick a slot.
func hashTag(key string) string {
	start := strings.IndexByte(key, '{')
	if start < 0 {
		return key
	}
	end := strings.IndexByte(key[start+1:], '}')
	if end <= 0 {
		return key
	}
	return key[start+1 : start+1+end]
}

func TestKeysShareOneClusterSlot(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "a", testRecord(), time.Hour); err != nil {
		t.Fatalf("put a: %v", err)
	}
	other := Record{Subject: "user-2", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Put(ctx, "b", other, time.Hour); err != nil {
		t.Fatalf("put b: %v", err)
	}

	keys := mr.Keys()
	if len(keys) != 4 {
		t.Fatalf("expected two records and two indexes, got %v", keys)
	}
	for _, k := range keys {
		if tag := hashTag(k); tag != "t" {
			t.Fatalf("key %q hashes on %q, want the store prefix", k, tag)
		}
	}
}

func TestConcurrentTakeHasOneWinner(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "race", testRecord(), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	const workers = 16
	var (
		wg       sync.WaitGroup
		winners  atomic.Int32
		notFound atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Take(ctx, "race")
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ErrNotFound):
				notFound.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 || notFound.Load() != workers-1 {
		t.Fatalf("expected 1 winner and %d not-found, got %d/%d", workers-1, winners.Load(), notFound.Load())
	}
}

func TestBackendFailureIsUnavailable(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	mr.SetError("LOADING redis is loading")

	if err := store.Put(ctx, "x", testRecord(), time.Hour); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("put: expected ErrUnavailable, got %v", err)
	}
	if _, err := store.Take(ctx, "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("take: expected ErrUnavailable, got %v", err)
	}
	if err := store.Delete(ctx, "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("delete: expected ErrUnavailable, got %v", err)
	}
	if _, err := store.RevokeSubject(ctx, "user-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("revoke subject: expected ErrUnavailable, got %v", err)
	}
}

func TestPutValidatesInput(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Put(ctx, "", testRecord(), time.Hour); err == nil {
		t.Fatal("expected error for empty jti")
	}
	if err := store.Put(ctx, "jti", testRecord(), 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestDecodeRecordRejectsGarbage(t *testing.T) {
	for _, data := range []string{"", "nocolon", "abc:user", "123:"} {
		if _, err := decodeRecord(data); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("%q: expected ErrCorrupt, got %v", data, err)
		}
	}
	rec, err := decodeRecord(encodeRecord(Record{Subject: "a:b", ExpiresAt: time.UnixMilli(42)}))
	if err != nil || rec.Subject != "a:b" || rec.ExpiresAt.UnixMilli() != 42 {
		t.Fatalf("subjects containing ':' must survive, got %+v err=%v", rec, err)
	}
}
