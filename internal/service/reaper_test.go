package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/linkdrop/internal/domain/model"
	"github.com/bigkaa/linkdrop/internal/registry"
	"github.com/bigkaa/linkdrop/internal/storage/blobstore"
)

// newTestReaper собирает reaper на in-memory реестре и временной директории.
func newTestReaper(t *testing.T, retention time.Duration) (*Reaper, *blobstore.Store, *registry.Memory, *CacheService) {
	t.Helper()

	blobs, err := blobstore.New(t.TempDir(), 1024*1024)
	if err != nil {
		t.Fatalf("Не удалось создать blob-хранилище: %v", err)
	}
	reg := registry.NewMemory(retention)
	cache := NewCacheService(16, time.Minute)

	return NewReaper(blobs, reg, cache, time.Hour, testLogger()), blobs, reg, cache
}

// seedFile записывает blob и создаёт запись с указанным возрастом.
func seedFile(t *testing.T, blobs *blobstore.Store, reg registry.Registry, name string, age time.Duration) *model.FileRecord {
	t.Helper()

	written, err := blobs.Write(strings.NewReader("содержимое "+name), name)
	if err != nil {
		t.Fatalf("Ошибка записи blob: %v", err)
	}

	rec := &model.FileRecord{
		StorageHandle: written.Handle,
		OriginalName:  name,
		ContentType:   "text/plain",
		SizeBytes:     written.Size,
		Checksum:      written.Checksum,
		CreatedAt:     time.Now().UTC().Add(-age),
	}
	token, err := reg.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("Ошибка создания записи: %v", err)
	}
	rec.Token = token
	return rec
}

// ageFile сдвигает mtime файла в директории данных в прошлое.
func ageFile(t *testing.T, blobs *blobstore.Store, name string, age time.Duration) {
	t.Helper()

	past := time.Now().Add(-age)
	if err := os.Chtimes(filepath.Join(blobs.DataDir(), name), past, past); err != nil {
		t.Fatalf("Ошибка изменения mtime: %v", err)
	}
}

func TestReaper_RunOnce_DeletesExpired(t *testing.T) {
	reaper, blobs, reg, _ := newTestReaper(t, time.Hour)
	ctx := context.Background()

	stale := seedFile(t, blobs, reg, "stale.txt", 2*time.Hour)
	fresh := seedFile(t, blobs, reg, "fresh.txt", 10*time.Minute)

	result := reaper.RunOnce(ctx)

	if result.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, ожидалось 1", result.DeletedCount)
	}
	if result.Errors != 0 {
		t.Errorf("Errors = %d, ожидалось 0", result.Errors)
	}
	if blobs.Exists(stale.StorageHandle) {
		t.Error("blob истёкшего файла должен быть удалён")
	}
	if !blobs.Exists(fresh.StorageHandle) {
		t.Error("blob свежего файла должен остаться")
	}
	if _, err := reg.Lookup(ctx, fresh.Token); err != nil {
		t.Errorf("свежая запись должна остаться: %v", err)
	}
}

func TestReaper_RunOnce_EmptyRegistry(t *testing.T) {
	reaper, _, _, _ := newTestReaper(t, time.Hour)

	result := reaper.RunOnce(context.Background())
	if result.DeletedCount != 0 || result.Errors != 0 {
		t.Errorf("пустой реестр: deleted=%d errors=%d, ожидалось 0/0", result.DeletedCount, result.Errors)
	}
}

func TestReaper_RunOnce_InvalidatesCache(t *testing.T) {
	reaper, blobs, reg, cache := newTestReaper(t, time.Hour)

	stale := seedFile(t, blobs, reg, "cached.txt", 2*time.Hour)
	cache.Set(stale.Token, stale)

	reaper.RunOnce(context.Background())

	if _, ok := cache.Get(stale.Token); ok {
		t.Error("запись должна быть удалена из кэша при очистке")
	}
}

// failDeleteRegistry — реестр, у которого Delete падает для одного токена.
type failDeleteRegistry struct {
	registry.Registry
	failToken string
}

func (f *failDeleteRegistry) Delete(ctx context.Context, token string) error {
	if token == f.failToken {
		return errors.New("реестр недоступен")
	}
	return f.Registry.Delete(ctx, token)
}

func TestReaper_RunOnce_ErrorDoesNotAbortCycle(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir(), 1024*1024)
	if err != nil {
		t.Fatalf("Не удалось создать blob-хранилище: %v", err)
	}
	mem := registry.NewMemory(time.Hour)

	bad := seedFile(t, blobs, mem, "bad.txt", 2*time.Hour)
	good := seedFile(t, blobs, mem, "good.txt", 3*time.Hour)

	reg := &failDeleteRegistry{Registry: mem, failToken: bad.Token}
	reaper := NewReaper(blobs, reg, NewCacheService(16, time.Minute), time.Hour, testLogger())

	result := reaper.RunOnce(context.Background())

	// Сбой одной записи не мешает удалению остальных
	if result.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, ожидалось 1", result.DeletedCount)
	}
	if result.Errors != 1 {
		t.Errorf("Errors = %d, ожидалось 1", result.Errors)
	}
	if blobs.Exists(good.StorageHandle) {
		t.Error("blob записи без сбоя должен быть удалён")
	}
}

func TestReaper_RunOnce_SweepsOrphanedBlobs(t *testing.T) {
	reaper, blobs, reg, _ := newTestReaper(t, time.Hour)
	ctx := context.Background()

	// Blob без записи: сбой между записью содержимого и созданием записи
	orphan, err := blobs.Write(strings.NewReader("осиротевшее"), "orphan.bin")
	if err != nil {
		t.Fatalf("Ошибка записи blob: %v", err)
	}
	ageFile(t, blobs, orphan.Handle, time.Hour)

	// Недописанный временный файл оборванной загрузки
	tmpName := "deadbeef.bin.tmp"
	if err := os.WriteFile(filepath.Join(blobs.DataDir(), tmpName), []byte("обрыв"), 0o644); err != nil {
		t.Fatalf("Ошибка создания temp файла: %v", err)
	}
	ageFile(t, blobs, tmpName, time.Hour)

	// Запись в реестре есть — blob не осиротевший, даже со старым mtime
	live := seedFile(t, blobs, reg, "live.txt", 10*time.Minute)
	ageFile(t, blobs, live.StorageHandle, 30*time.Minute)

	result := reaper.RunOnce(ctx)

	if result.OrphansDeleted != 2 {
		t.Errorf("OrphansDeleted = %d, ожидалось 2", result.OrphansDeleted)
	}
	if result.Errors != 0 {
		t.Errorf("Errors = %d, ожидалось 0", result.Errors)
	}
	if blobs.Exists(orphan.Handle) {
		t.Error("blob без записи в реестре должен быть удалён")
	}
	if _, err := os.Stat(filepath.Join(blobs.DataDir(), tmpName)); !os.IsNotExist(err) {
		t.Error("временный файл должен быть удалён")
	}
	if !blobs.Exists(live.StorageHandle) {
		t.Error("blob с записью в реестре должен остаться")
	}
}

func TestReaper_RunOnce_KeepsRecentOrphans(t *testing.T) {
	reaper, blobs, _, _ := newTestReaper(t, time.Hour)

	// Только что записанный blob: запись для него может ещё создаваться
	orphan, err := blobs.Write(strings.NewReader("в процессе"), "inflight.bin")
	if err != nil {
		t.Fatalf("Ошибка записи blob: %v", err)
	}

	result := reaper.RunOnce(context.Background())

	if result.OrphansDeleted != 0 {
		t.Errorf("OrphansDeleted = %d, ожидалось 0", result.OrphansDeleted)
	}
	if !blobs.Exists(orphan.Handle) {
		t.Error("свежий blob без записи не должен удаляться")
	}
}

// failListRegistry — реестр, у которого ListExpired всегда падает.
type failListRegistry struct {
	registry.Registry
}

func (f *failListRegistry) ListExpired(_ context.Context, _ time.Time) ([]*model.FileRecord, error) {
	return nil, errors.New("реестр недоступен")
}

func TestReaper_RunOnce_ListErrorStillSweepsOrphans(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir(), 1024*1024)
	if err != nil {
		t.Fatalf("Не удалось создать blob-хранилище: %v", err)
	}
	reg := &failListRegistry{Registry: registry.NewMemory(time.Hour)}
	reaper := NewReaper(blobs, reg, NewCacheService(16, time.Minute), time.Hour, testLogger())

	orphan, err := blobs.Write(strings.NewReader("осиротевшее"), "orphan.bin")
	if err != nil {
		t.Fatalf("Ошибка записи blob: %v", err)
	}
	ageFile(t, blobs, orphan.Handle, time.Hour)

	result := reaper.RunOnce(context.Background())

	// Сбой выборки учтён, но цикл дошёл до поиска осиротевших файлов
	if result.Errors != 1 {
		t.Errorf("Errors = %d, ожидалось 1", result.Errors)
	}
	if result.OrphansDeleted != 1 {
		t.Errorf("OrphansDeleted = %d, ожидалось 1", result.OrphansDeleted)
	}
	if blobs.Exists(orphan.Handle) {
		t.Error("осиротевший blob должен быть удалён несмотря на сбой выборки")
	}
}

func TestReaper_StartStop(t *testing.T) {
	reaper, blobs, reg, _ := newTestReaper(t, time.Hour)

	stale := seedFile(t, blobs, reg, "stale.txt", 2*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reaper.Start(ctx)

	// Первый цикл выполняется сразу после старта
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !blobs.Exists(stale.StorageHandle) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if blobs.Exists(stale.StorageHandle) {
		t.Error("истёкший blob должен быть удалён первым циклом после Start")
	}

	reaper.Stop()
}
