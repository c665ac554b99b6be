package service

import (
	"testing"
	"time"

	"github.com/bigkaa/linkdrop/internal/domain/model"
)

func cacheRecord(token string) *model.FileRecord {
	return &model.FileRecord{
		Token:         token,
		StorageHandle: "deadbeef.bin",
		OriginalName:  "file.txt",
		ContentType:   "text/plain",
		SizeBytes:     10,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestCacheService_SetGet(t *testing.T) {
	cache := NewCacheService(16, time.Minute)

	rec := cacheRecord("token-1")
	cache.Set(rec.Token, rec)

	got, ok := cache.Get("token-1")
	if !ok {
		t.Fatal("ожидался cache hit")
	}
	if got.OriginalName != "file.txt" {
		t.Errorf("OriginalName = %q, ожидалось 'file.txt'", got.OriginalName)
	}
}

func TestCacheService_Miss(t *testing.T) {
	cache := NewCacheService(16, time.Minute)

	if _, ok := cache.Get("нет-такого"); ok {
		t.Error("ожидался cache miss")
	}
}

func TestCacheService_TTLExpiry(t *testing.T) {
	cache := NewCacheService(16, 20*time.Millisecond)

	cache.Set("token-1", cacheRecord("token-1"))
	time.Sleep(50 * time.Millisecond)

	if _, ok := cache.Get("token-1"); ok {
		t.Error("запись должна исчезнуть из кэша после TTL")
	}
}

func TestCacheService_Delete(t *testing.T) {
	cache := NewCacheService(16, time.Minute)

	cache.Set("token-1", cacheRecord("token-1"))
	cache.Delete("token-1")

	if _, ok := cache.Get("token-1"); ok {
		t.Error("запись должна отсутствовать после Delete")
	}
}

func TestCacheService_EvictsOldest(t *testing.T) {
	cache := NewCacheService(2, time.Minute)

	cache.Set("a", cacheRecord("a"))
	cache.Set("b", cacheRecord("b"))
	cache.Set("c", cacheRecord("c"))

	if _, ok := cache.Get("a"); ok {
		t.Error("самая старая запись должна быть вытеснена при переполнении")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Error("последняя запись должна остаться в кэше")
	}
	if cache.Len() != 2 {
		t.Errorf("Len = %d, ожидалось 2", cache.Len())
	}
}
