package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
)

const layoutKeyPrefix = "layout:"

// BadgerStore хранит снимки раскладок в BadgerDB.
// Значение: JSON снимка, сжатый zstd.
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBadgerStore открывает хранилище в подкаталоге layouts
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "layouts")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	return openBadger(opts, dbPath)
}

// NewInMemoryBadgerStore открывает Badger без диска (для тестов и dev)
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	return openBadger(opts, "")
}

func openBadger(opts badger.Options, dbPath string) (*BadgerStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("не удалось создать zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("не удалось создать zstd decoder: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		encoder.Close()
		decoder.Close()
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Path возвращает каталог базы; пусто для in-memory режима
func (bs *BadgerStore) Path() string { return bs.dbPath }

// Close закрывает хранилище данных
func (bs *BadgerStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	bs.decoder.Close()
	if err := bs.encoder.Close(); err != nil {
		bs.db.Close()
		return err
	}
	return bs.db.Close()
}

// Save сохраняет снимок раскладки
func (bs *BadgerStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return ErrEmptyVolumeID
	}
	if err := validate(ctx, snap.VolumeID); err != nil {
		return err
	}

	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return ErrNotReady
	}

	c := *snap
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now().UTC()
	}

	data, err := json.Marshal(&c)
	if err != nil {
		return fmt.Errorf("ошибка сериализации снимка: %w", err)
	}
	packed := bs.encoder.EncodeAll(data, nil)

	err = bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(layoutKey(c.VolumeID), packed)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	return nil
}

// Load загружает снимок раскладки
func (bs *BadgerStore) Load(ctx context.Context, volumeID string) (*Snapshot, bool, error) {
	if err := validate(ctx, volumeID); err != nil {
		return nil, false, err
	}

	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, false, ErrNotReady
	}

	var packed []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(layoutKey(volumeID))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			packed = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	data, err := bs.decoder.DecodeAll(packed, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptedValue, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptedValue, err)
	}

	return &snap, true, nil
}

// List перечисляет сохранённые объёмы
func (bs *BadgerStore) List(ctx context.Context) ([]string, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, ErrNotReady
	}

	var ids []string
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(layoutKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, layoutKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

// Delete удаляет снимок
func (bs *BadgerStore) Delete(ctx context.Context, volumeID string) error {
	if err := validate(ctx, volumeID); err != nil {
		return err
	}

	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return ErrNotReady
	}

	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(layoutKey(volumeID))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

func layoutKey(volumeID string) []byte {
	return []byte(layoutKeyPrefix + volumeID)
}
