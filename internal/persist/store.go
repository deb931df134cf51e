package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"multileg/internal/models"
	"multileg/pkg/utils"
)

// store.go - файловая персистенция контекстов задач
//
// Гарантии:
//   - Атомарность: запись во временный файл + os.Rename.
//     Упавший процесс оставляет либо прежний снимок, либо новый,
//     никогда не повреждённый.
//   - Единственная копия: контекст лежит ровно в одной из трёх
//     директорий (active / completed / errored); при смене
//     корзины прежняя копия удаляется.
//   - Записи одного task_id сериализованы per-id мьютексом.

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Имена корзин
const (
	bucketActive    = "active"
	bucketCompleted = "completed"
	bucketErrored   = "errored"
)

// Store - файловое хранилище контекстов
type Store struct {
	root   string
	logger *utils.Logger

	// per-id мьютексы: одновременные Save одного контекста
	// выстраиваются в очередь
	locks sync.Map // taskID -> *sync.Mutex
}

// NewStore создаёт хранилище и директории корзин
func NewStore(root string, logger *utils.Logger) (*Store, error) {
	if logger == nil {
		logger = utils.L()
	}
	for _, bucket := range []string{bucketActive, bucketCompleted, bucketErrored} {
		if err := os.MkdirAll(filepath.Join(root, bucket), 0755); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Store{root: root, logger: logger.WithComponent("persist")}, nil
}

// bucketFor выбирает корзину по состоянию контекста
func bucketFor(state string) string {
	switch state {
	case models.StateCompleted, models.StateCancelled:
		return bucketCompleted
	case models.StateError:
		return bucketErrored
	default:
		return bucketActive
	}
}

// fileName кодирует task_id в безопасное имя файла
func fileName(taskID string) string {
	return strings.ReplaceAll(taskID, ":", "_") + ".json"
}

func (s *Store) path(bucket, taskID string) string {
	return filepath.Join(s.root, bucket, fileName(taskID))
}

func (s *Store) lockFor(taskID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(taskID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Save записывает контекст в корзину его состояния.
//
// Порядок: временный файл -> fsync -> rename -> удаление копий
// в других корзинах. Rename на одной файловой системе атомарен.
func (s *Store) Save(ctx models.TaskContext) error {
	mu := s.lockFor(ctx.TaskID)
	mu.Lock()
	defer mu.Unlock()

	bucket := bucketFor(ctx.State)
	target := s.path(bucket, ctx.TaskID)

	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal context %s: %w", ctx.TaskID, err)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, bucket), fileName(ctx.TaskID)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", bucket, err)
	}

	// Смена корзины: убираем устаревшие копии
	for _, other := range []string{bucketActive, bucketCompleted, bucketErrored} {
		if other == bucket {
			continue
		}
		stale := s.path(other, ctx.TaskID)
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove stale context copy",
				utils.TaskID(ctx.TaskID),
				utils.String("bucket", other),
				utils.Err(err))
		}
	}

	s.logger.Debug("context persisted",
		utils.TaskID(ctx.TaskID),
		utils.State(ctx.State),
		utils.Version(ctx.Version),
		utils.String("bucket", bucket))
	return nil
}

// Load читает контекст из корзины active
func (s *Store) Load(taskID string) (models.TaskContext, error) {
	return s.loadFile(s.path(bucketActive, taskID))
}

func (s *Store) loadFile(path string) (models.TaskContext, error) {
	var ctx models.TaskContext

	data, err := os.ReadFile(path)
	if err != nil {
		return ctx, fmt.Errorf("read context file: %w", err)
	}
	if err := json.Unmarshal(data, &ctx); err != nil {
		return ctx, fmt.Errorf("decode context file %s: %w", filepath.Base(path), err)
	}
	if ctx.ActiveOrders == nil {
		ctx.ActiveOrders = make(map[string]models.ActiveOrder)
	}
	return ctx, nil
}

// ListActive читает все контексты из корзины active.
// Повреждённые файлы пропускаются с предупреждением:
// один битый снимок не должен блокировать восстановление остальных.
func (s *Store) ListActive() ([]models.TaskContext, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, bucketActive))
	if err != nil {
		return nil, fmt.Errorf("read active bucket: %w", err)
	}

	contexts := make([]models.TaskContext, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ctx, err := s.loadFile(filepath.Join(s.root, bucketActive, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable context file",
				utils.String("file", entry.Name()),
				utils.Err(err))
			continue
		}
		contexts = append(contexts, ctx)
	}
	return contexts, nil
}

// CheckWritable проверяет что корзина active доступна для записи.
// Используется health check'ом: стор с кончившимся диском или
// отозванными правами означает что dirty-контексты теряются.
func (s *Store) CheckWritable() error {
	tmp, err := os.CreateTemp(filepath.Join(s.root, bucketActive), ".healthcheck-*")
	if err != nil {
		return fmt.Errorf("store not writable: %w", err)
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	return nil
}

// Delete удаляет контекст из всех корзин
func (s *Store) Delete(taskID string) error {
	mu := s.lockFor(taskID)
	mu.Lock()
	defer mu.Unlock()

	var firstErr error
	for _, bucket := range []string{bucketActive, bucketCompleted, bucketErrored} {
		if err := os.Remove(s.path(bucket, taskID)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	s.locks.Delete(taskID)
	return firstErr
}

// Sweep удаляет снимки из completed старше maxAge.
// Корзину errored зачистка не трогает: записи ERROR-задач - след
// для ручного разбора оператором, удаляются только через Delete.
// Возвращает количество удалённых файлов.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	dir := filepath.Join(s.root, bucketCompleted)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return removed, fmt.Errorf("read bucket %s: %w", bucketCompleted, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Info("swept archived contexts", utils.Int("removed", removed))
	}
	return removed, nil
}
