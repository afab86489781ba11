package broker

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"context"

	"github.com/redis/go-redis/v9"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// Lease serializes chain execution per message. A worker acquires the
// lease before the first stage, refreshes it between stages, and
// releases it after the last; a second worker holding the same job
// redelivery cannot write in parallel.
type Lease interface {
	// Acquire returns false when another holder owns the lease.
	Acquire(ctx context.Context, messageID string) (bool, error)
	Refresh(ctx context.Context, messageID string) error
	Release(ctx context.Context, messageID string) error
}

func newToken() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// refresh and release only act when the stored token is ours; a lease
// that expired and was re-acquired elsewhere is left alone.
var leaseRefreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var leaseReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements the lease with SET NX PX and token-checked
// refresh/release.
type RedisLease struct {
	client *redis.Client
	ttl    time.Duration
	token  string
}

func NewRedisLease(client *redis.Client, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLease{client: client, ttl: ttl, token: newToken()}
}

func leaseKey(messageID string) string { return "ire:lease:" + messageID }

func (l *RedisLease) Acquire(ctx context.Context, messageID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKey(messageID), l.token, l.ttl).Result()
	if err != nil {
		return false, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_acquire_failed", err)
	}
	return ok, nil
}

func (l *RedisLease) Refresh(ctx context.Context, messageID string) error {
	res, err := leaseRefreshScript.Run(ctx, l.client,
		[]string{leaseKey(messageID)}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_refresh_failed", err)
	}
	if res == 0 {
		return fault.New(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_lost")
	}
	return nil
}

func (l *RedisLease) Release(ctx context.Context, messageID string) error {
	_, err := leaseReleaseScript.Run(ctx, l.client,
		[]string{leaseKey(messageID)}, l.token).Int()
	return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_release_failed", err)
}

// FileLease is the single-node lease: one file per message created
// with O_EXCL, expiry judged from the recorded deadline.
type FileLease struct {
	dir   string
	ttl   time.Duration
	token string
	now   func() time.Time
}

type leaseFile struct {
	Token    string    `json:"token"`
	Deadline time.Time `json:"deadline"`
}

func NewFileLease(dir string, ttl time.Duration) (*FileLease, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_dir_unwritable", err)
	}
	return &FileLease{dir: dir, ttl: ttl, token: newToken(), now: time.Now}, nil
}

func (l *FileLease) path(messageID string) string {
	return filepath.Join(l.dir, hex.EncodeToString([]byte(messageID))+".lease")
}

func (l *FileLease) write(path string) error {
	data, err := json.Marshal(leaseFile{Token: l.token, Deadline: l.now().Add(l.ttl)})
	if err != nil {
		return fault.Wrap(fault.KindInternal, canonical.StageIngest, "lease_encode_failed", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func (l *FileLease) read(path string) (*leaseFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lf leaseFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, err
	}
	return &lf, nil
}

func (l *FileLease) Acquire(_ context.Context, messageID string) (bool, error) {
	path := l.path(messageID)
	err := l.write(path)
	if err == nil {
		return true, nil
	}
	if !os.IsExist(err) {
		return false, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_acquire_failed", err)
	}

	existing, rerr := l.read(path)
	if rerr == nil && l.now().Before(existing.Deadline) {
		return false, nil
	}
	// Expired or unreadable: take it over.
	if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
		return false, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_acquire_failed", rerr)
	}
	if err := l.write(path); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_acquire_failed", err)
	}
	return true, nil
}

func (l *FileLease) Refresh(_ context.Context, messageID string) error {
	path := l.path(messageID)
	existing, err := l.read(path)
	if err != nil || existing.Token != l.token {
		return fault.New(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_lost")
	}
	if err := os.Remove(path); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_refresh_failed", err)
	}
	if err := l.write(path); err != nil {
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_refresh_failed", err)
	}
	return nil
}

func (l *FileLease) Release(_ context.Context, messageID string) error {
	path := l.path(messageID)
	existing, err := l.read(path)
	if err != nil || existing.Token != l.token {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "lease_release_failed", err)
	}
	return nil
}
