// Пакет model — доменные модели Linkdrop.
// FileRecord — запись о загруженном файле, связывающая публичный токен
// с местом хранения blob'а и метаданными для отдачи.
package model

import (
	"time"
)

// FileRecord — метаданные одного загруженного файла.
// Запись неизменяема после создания: единственные операции над ней —
// чтение и удаление (явное или реапером по истечении срока хранения).
type FileRecord struct {
	// Token — публичный идентификатор (ссылка). UUID v4, уникален,
	// выдаётся реестром при создании записи.
	Token string

	// StorageHandle — имя blob'а в хранилище (относительно LD_DATA_DIR).
	// Внутренний идентификатор, в API-ответы не попадает.
	StorageHandle string

	// OriginalName — имя файла при загрузке. Используется только для
	// отображения и Content-Disposition, на диске файл так не называется.
	OriginalName string

	// ContentType — MIME-тип, заявленный клиентом при загрузке.
	ContentType string

	// SizeBytes — размер файла в байтах.
	SizeBytes int64

	// Checksum — SHA-256 хэш содержимого, считается при записи blob'а.
	// Отдаётся как ETag при скачивании.
	Checksum string

	// CreatedAt — момент создания записи (UTC). Единственная основа
	// для вычисления срока хранения.
	CreatedAt time.Time
}

// ExpiresAt возвращает момент истечения срока хранения записи.
func (r *FileRecord) ExpiresAt(retention time.Duration) time.Time {
	return r.CreatedAt.Add(retention)
}

// IsExpired проверяет, истёк ли срок хранения записи на момент now.
// Граница включается: запись, достигшая дедлайна, считается истёкшей.
func (r *FileRecord) IsExpired(now time.Time, retention time.Duration) bool {
	return !now.Before(r.ExpiresAt(retention))
}
