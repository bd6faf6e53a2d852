package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// DefaultNamespace prefixes every decision key stored in Valkey so several
// subsystems can share one server without colliding.
const DefaultNamespace = "tacticache:decision:v1"

const scanBatchSize = 256

// ValkeyTLS configures transport security for the Valkey connection.
type ValkeyTLS struct {
	Enabled bool
	CAFile  string
}

// ValkeyConfig describes a shared Valkey backend.
type ValkeyConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	Namespace string
	TLS       ValkeyTLS
}

type valkeyStore struct {
	client    valkey.Client
	namespace string
}

// NewValkey connects to the configured server and verifies it with a ping
// before returning. Expiry is delegated to the server through per-key TTLs,
// so SweepExpired, EvictOldest, Footprint and OldestInsertedAt are no-ops on
// this backend.
func NewValkey(ctx context.Context, cfg ValkeyConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey: address is required")
	}
	opts := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}
	if cfg.TLS.Enabled {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			pem, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("valkey: read CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("valkey: no certificates parsed from %s", cfg.TLS.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
		opts.TLSConfig = tlsCfg
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("valkey: connect %s: %w", cfg.Address, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey: ping %s: %w", cfg.Address, err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &valkeyStore{client: client, namespace: namespace}, nil
}

func (s *valkeyStore) storageKey(key string) string {
	return s.namespace + ":" + key
}

func (s *valkeyStore) decisionKey(storage string) (string, bool) {
	prefix := s.namespace + ":"
	if !strings.HasPrefix(storage, prefix) {
		return "", false
	}
	return storage[len(prefix):], true
}

func (s *valkeyStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.storageKey(key)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("valkey: get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("valkey: decode entry: %w", err)
	}
	return entry, true, nil
}

func (s *valkeyStore) Put(ctx context.Context, key string, entry Entry) (int, error) {
	if entry.TTL <= 0 {
		return 0, fmt.Errorf("valkey: entry TTL must be positive, got %s", entry.TTL)
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("valkey: encode entry: %w", err)
	}
	cmd := s.client.B().Set().
		Key(s.storageKey(key)).
		Value(valkey.BinaryString(payload)).
		Px(entry.TTL).
		Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return 0, fmt.Errorf("valkey: set: %w", err)
	}
	return 0, nil
}

func (s *valkeyStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.storageKey(key)).Build()).Error(); err != nil {
		return fmt.Errorf("valkey: del: %w", err)
	}
	return nil
}

func (s *valkeyStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return 0, fmt.Errorf("valkey: clear: %w", err)
	}
	return len(keys), nil
}

func (s *valkeyStore) DeleteMatching(ctx context.Context, match func(Key) bool) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	doomed := make([]string, 0, len(keys))
	for _, storage := range keys {
		raw, ok := s.decisionKey(storage)
		if !ok {
			continue
		}
		key, err := ParseKey(raw)
		if err != nil {
			doomed = append(doomed, storage)
			continue
		}
		if match != nil && match(key) {
			doomed = append(doomed, storage)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(doomed...).Build()).Error(); err != nil {
		return 0, fmt.Errorf("valkey: delete matching: %w", err)
	}
	return len(doomed), nil
}

// RecordHit rewrites the entry with an incremented counter while Keepttl
// preserves the server-side expiry set at insert time.
func (s *valkeyStore) RecordHit(ctx context.Context, key string) (int64, error) {
	storage := s.storageKey(key)
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(storage).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("valkey: get for hit: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return 0, fmt.Errorf("valkey: decode entry: %w", err)
	}
	entry.HitCount++
	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("valkey: encode entry: %w", err)
	}
	cmd := s.client.B().Set().
		Key(storage).
		Value(valkey.BinaryString(payload)).
		Keepttl().
		Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return 0, fmt.Errorf("valkey: record hit: %w", err)
	}
	return entry.HitCount, nil
}

func (s *valkeyStore) SweepExpired(context.Context, time.Time) (int, error) {
	// The server expires keys on its own via the per-key TTL.
	return 0, nil
}

func (s *valkeyStore) EvictOldest(context.Context, float64) (int, error) {
	// Capacity is the server's concern on a shared backend.
	return 0, nil
}

func (s *valkeyStore) Size(ctx context.Context) (int64, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (s *valkeyStore) Footprint(context.Context) (int64, error) {
	return 0, nil
}

func (s *valkeyStore) OldestInsertedAt(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (s *valkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}

func (s *valkeyStore) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	pattern := s.namespace + ":*"
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("valkey: scan: %w", err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}
