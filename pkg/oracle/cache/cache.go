package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"image-labeler-be/pkg/oracle"
)

// Store is the minimal key-value surface the classification cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]oracle.Result, bool)
	Set(ctx context.Context, key string, value []oracle.Result)
}

// MemoryStore keeps results in process memory with expiry.
type MemoryStore struct {
	c *gocache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{c: gocache.New(ttl, 2*ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]oracle.Result, bool) {
	if x, found := m.c.Get(key); found {
		return cloneResults(x.([]oracle.Result)), true
	}
	return nil, false
}

func (m *MemoryStore) Set(_ context.Context, key string, value []oracle.Result) {
	m.c.Set(key, cloneResults(value), gocache.DefaultExpiration)
}

// RedisStore shares results between processes. Redis errors degrade to
// cache misses.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]oracle.Result, bool) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var out []oracle.Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (r *RedisStore) Set(ctx context.Context, key string, value []oracle.Result) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	r.rdb.Set(ctx, key, raw, r.ttl)
}

// CachedOracle memoizes successful classifications by exact image content
// and label list. Errors are never cached.
type CachedOracle struct {
	next  oracle.Oracle
	store Store
}

// Ensure CachedOracle implements Oracle
var _ oracle.Oracle = &CachedOracle{}

func New(next oracle.Oracle, store Store) *CachedOracle {
	return &CachedOracle{next: next, store: store}
}

func (c *CachedOracle) ModelID() string {
	return c.next.ModelID()
}

func (c *CachedOracle) Classify(ctx context.Context, img *oracle.Image, labels []string) ([]oracle.Result, error) {
	if err := oracle.Validate(img, labels); err != nil {
		return nil, err
	}

	key, ok := Key(c.next.ModelID(), img, labels)
	if ok {
		if res, hit := c.store.Get(ctx, key); hit && len(res) == len(labels) {
			return res, nil
		}
	}

	res, err := c.next.Classify(ctx, img, labels)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store.Set(ctx, key, res)
	}
	return res, nil
}

// Close forwards to the wrapped oracle.
func (c *CachedOracle) Close() error {
	if closer, ok := c.next.(oracle.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Key builds the cache key from a sha256 of the uploaded bytes, or of the
// decoded pixels when no bytes are attached. The difference hash of the
// decoded image is appended to the digest. It reports false when the image
// carries neither bytes nor pixels.
func Key(model string, img *oracle.Image, labels []string) (string, bool) {
	if img == nil {
		return "", false
	}

	var digest string
	switch {
	case len(img.Data) > 0:
		sum := sha256.Sum256(img.Data)
		digest = hex.EncodeToString(sum[:])
	case img.Decoded != nil:
		digest = pixelDigest(img.Decoded)
	default:
		return "", false
	}

	if img.Decoded != nil {
		if hash, err := goimagehash.DifferenceHash(img.Decoded); err == nil {
			digest = fmt.Sprintf("%s-%016x", digest, hash.GetHash())
		}
	}
	return fmt.Sprintf("labeler:cls:%s:%s:%s", model, digest, strings.Join(labels, "\x1f")), true
}

func pixelDigest(img image.Image) string {
	h := sha256.New()
	b := img.Bounds()
	var buf [16]byte
	binary.BigEndian.PutUint32(buf[0:], uint32(b.Min.X))
	binary.BigEndian.PutUint32(buf[4:], uint32(b.Min.Y))
	binary.BigEndian.PutUint32(buf[8:], uint32(b.Max.X))
	binary.BigEndian.PutUint32(buf[12:], uint32(b.Max.Y))
	h.Write(buf[:])

	var px [8]byte
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			binary.BigEndian.PutUint16(px[0:], uint16(r))
			binary.BigEndian.PutUint16(px[2:], uint16(g))
			binary.BigEndian.PutUint16(px[4:], uint16(bl))
			binary.BigEndian.PutUint16(px[6:], uint16(a))
			h.Write(px[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneResults(in []oracle.Result) []oracle.Result {
	out := make([]oracle.Result, len(in))
	copy(out, in)
	return out
}
