// Package crypto provides UUIDs, random values and message digests.
// Digests run on the kernel's worker pool.
package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"
	mrand "math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/marshal"
	"github.com/wippyai/opcore/op"
)

// Name is the extension name.
const Name = "crypto"

// MaxRandomBytes caps a single op_get_random_values request.
const MaxRandomBytes = 65536

// ClassQuotaExceeded is raised when a random-values request is too large.
const ClassQuotaExceeded = "QuotaExceededError"

var digests = map[string]func() hash.Hash{
	"SHA-1":    sha1.New,
	"SHA-256":  sha256.New,
	"SHA-384":  sha512.New384,
	"SHA-512":  sha512.New,
	"SHA3-256": sha3.New256,
	"SHA3-512": sha3.New512,
	"BLAKE2B-256": func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	},
	"BLAKE2B-512": func() hash.Hash {
		h, _ := blake2b.New512(nil)
		return h
	},
}

// Random is the source behind op_get_random_values and op_random_uuid. A
// seeded source is deterministic and meant for tests and replays.
type Random struct {
	rng *mrand.ChaCha8
	mu  sync.Mutex
}

// NewRandom returns a source backed by crypto/rand.
func NewRandom() *Random {
	return &Random{}
}

// NewSeededRandom returns a deterministic source.
func NewSeededRandom(seed uint64) *Random {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return &Random{rng: mrand.NewChaCha8(s)}
}

// Read fills p.
func (r *Random) Read(p []byte) (int, error) {
	if r.rng == nil {
		return rand.Read(p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Read(p)
}

// Options configures the extension.
type Options struct {
	// Seed makes random values deterministic when non-nil.
	Seed *uint64
}

// New returns the crypto extension.
func New(opts Options) *op.Extension {
	return op.NewExtension(Name).
		Ops(
			op.Sync("op_random_uuid", opRandomUUID),
			op.Sync("op_get_random_values", opGetRandomValues),
			op.Async("op_digest", opDigest),
		).
		State(func(s *op.State) error {
			if opts.Seed != nil {
				op.Put(s, NewSeededRandom(*opts.Seed))
			} else {
				op.Put(s, NewRandom())
			}
			return nil
		}).
		Build()
}

// opRandomUUID returns a version 4 UUID, or version 7 when asked.
func opRandomUUID(s *op.State, version int, _ op.Void) (string, error) {
	r := op.Borrow[*Random](s)
	var (
		id  uuid.UUID
		err error
	)
	switch version {
	case 0, 4:
		id, err = uuid.NewRandomFromReader(r)
	case 7:
		id, err = uuid.NewV7FromReader(r)
	default:
		return "", errors.New(errors.PhaseOp, errors.KindInvalidInput).
			Detail("unsupported UUID version %d", version).
			Value(version).
			Build()
	}
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func opGetRandomValues(s *op.State, buf *marshal.Buffer, _ op.Void) (op.Void, error) {
	if buf.Len() > MaxRandomBytes {
		return op.Void{}, errors.New(errors.PhaseOp, errors.KindOp).
			Class(ClassQuotaExceeded).
			Detail("requested %d random bytes, limit is %d", buf.Len(), MaxRandomBytes).
			Build()
	}
	_, err := op.Borrow[*Random](s).Read(buf.Bytes())
	return op.Void{}, err
}

func opDigest(ctx context.Context, s *op.State, alg string, data *marshal.Buffer) (*marshal.Buffer, error) {
	newHash, ok := digests[strings.ToUpper(alg)]
	if !ok {
		return nil, errors.NotSupported("digest algorithm " + alg)
	}
	return op.Blocking(ctx, s, func() (*marshal.Buffer, error) {
		h := newHash()
		h.Write(data.Bytes())
		return marshal.BufferFrom(h.Sum(nil)), nil
	})
}
