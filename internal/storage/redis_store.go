package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/annel0/tilegrid/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни снимка; 0 = бессрочно
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "tilegrid:" + layoutKeyPrefix,
	}
}

// RedisStore хранит снимки раскладок в Redis: JSON под ключом <prefix><id>,
// идентификаторы дублируются в множестве <prefix>ids для List.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(ctx context.Context, config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("🔴 Connected to Redis at %s", config.Addr)
	return &RedisStore{
		client:    client,
		keyPrefix: config.KeyPrefix,
		ttl:       config.TTL,
	}, nil
}

func (rs *RedisStore) key(volumeID string) string { return rs.keyPrefix + volumeID }

func (rs *RedisStore) indexKey() string { return rs.keyPrefix + "ids" }

func (rs *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrEmptyVolumeID)
	}
	if err := validate(ctx, snap.VolumeID); err != nil {
		return err
	}

	c := cloneSnapshot(snap)
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, rs.key(c.VolumeID), data, rs.ttl)
	pipe.SAdd(ctx, rs.indexKey(), c.VolumeID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", c.VolumeID, err)
	}
	return nil
}

func (rs *RedisStore) Load(ctx context.Context, volumeID string) (*Snapshot, bool, error) {
	if err := validate(ctx, volumeID); err != nil {
		return nil, false, err
	}

	data, err := rs.client.Get(ctx, rs.key(volumeID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to get snapshot %s: %w", volumeID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptedValue, err)
	}
	return &snap, true, nil
}

// List возвращает идентификаторы из индекса. Записи, у которых истёк TTL,
// вычищаются из индекса по ходу.
func (rs *RedisStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, err := rs.client.SMembers(ctx, rs.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rs.key(id)
	}
	exists := make([]*redis.IntCmd, len(keys))
	pipe := rs.client.Pipeline()
	for i, k := range keys {
		exists[i] = pipe.Exists(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	result := make([]string, 0, len(ids))
	var stale []interface{}
	for i, id := range ids {
		if exists[i].Val() > 0 {
			result = append(result, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		rs.client.SRem(ctx, rs.indexKey(), stale...)
	}

	sort.Strings(result)
	return result, nil
}

func (rs *RedisStore) Delete(ctx context.Context, volumeID string) error {
	if err := validate(ctx, volumeID); err != nil {
		return err
	}

	pipe := rs.client.TxPipeline()
	pipe.Del(ctx, rs.key(volumeID))
	pipe.SRem(ctx, rs.indexKey(), volumeID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", volumeID, err)
	}
	return nil
}

func (rs *RedisStore) Close() error {
	if err := rs.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
