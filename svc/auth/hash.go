package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"pastebin/svc/util"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const (
	maxPasswordLength = 1024
	defaultVerifyTime = 350 * time.Millisecond
	hashQueueSize     = 4096
)

var (
	ErrHasherNotStarted = errors.New("hasher not started")
	ErrHasherStopped    = errors.New("hasher is shutting down")
	ErrPasswordTooLong  = errors.New("password too long")
)

// Params are the argon2id cost settings new hashes are produced with.
type Params struct {
	Time        uint32
	Memory      uint32
	Parallelism uint8
	KeyLen      uint32
}

// Hasher produces and checks peppered argon2id hashes on a bounded worker
// pool so a burst of registrations cannot exhaust memory.
type Hasher struct {
	p          Params
	pepper     []byte
	verifyTime time.Duration
	mu         sync.RWMutex
	jobQueue   chan hashJob
	quit       chan struct{}
	wg         sync.WaitGroup
	started    bool
	startMu    sync.Mutex
	stopOnce   sync.Once
}
type hashJob struct {
	password string
	resp     chan hashResult
}
type hashResult struct {
	hash string
	err  error
}

func NewHasher(p Params, pepper []byte) (*Hasher, error) {
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	if p.Time == 0 || p.Time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if p.Memory < 1024 || p.Memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 1024 and 2097152 KiB")
	}
	if p.Parallelism == 0 || p.Parallelism > 128 {
		return nil, errors.New("parallelism must be between 1 and 128")
	}
	if p.KeyLen == 0 {
		p.KeyLen = 32
	}
	pepperCopy := make([]byte, len(pepper))
	copy(pepperCopy, pepper)
	return &Hasher{
		p:          p,
		pepper:     pepperCopy,
		verifyTime: defaultVerifyTime,
		jobQueue:   make(chan hashJob, hashQueueSize),
		quit:       make(chan struct{}),
	}, nil
}

// SetVerifyFloor changes the minimum Verify duration. Zero disables padding.
func (h *Hasher) SetVerifyFloor(d time.Duration) {
	h.verifyTime = d
}
func (h *Hasher) Start(workers int) error {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.started {
		return errors.New("hasher already started")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go h.worker()
	}
	h.started = true
	return nil
}
func (h *Hasher) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		h.wg.Wait()
		h.mu.Lock()
		util.Wipe(h.pepper)
		h.pepper = nil
		h.mu.Unlock()
	})
}
func (h *Hasher) worker() {
	defer h.wg.Done()
	for {
		select {
		case job := <-h.jobQueue:
			hash, err := h.doHash(job.password)
			job.resp <- hashResult{hash: hash, err: err}
		case <-h.quit:
			return
		}
	}
}

// Hash queues password on the pool and waits for the encoded hash or ctx.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	h.startMu.Lock()
	started := h.started
	h.startMu.Unlock()
	if !started {
		return "", ErrHasherNotStarted
	}
	if len(password) > maxPasswordLength {
		return "", ErrPasswordTooLong
	}
	respChan := make(chan hashResult, 1)
	select {
	case h.jobQueue <- hashJob{password: password, resp: respChan}:
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "hash queue full")
	case <-h.quit:
		return "", ErrHasherStopped
	}
	select {
	case res := <-respChan:
		return res.hash, res.err
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "hash timeout")
	case <-h.quit:
		return "", ErrHasherStopped
	}
}
func (h *Hasher) doHash(password string) (string, error) {
	peppered := h.applyPepper(password)
	if peppered == nil {
		return "", ErrHasherStopped
	}
	defer util.Wipe(peppered)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey(peppered, salt, h.p.Time, h.p.Memory, h.p.Parallelism, h.p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.p.Memory, h.p.Time, h.p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// Verify reports whether pwd matches encoded and whether the stored hash
// uses outdated parameters. It always takes at least the verify floor, and an
// empty or malformed encoded value still burns a full argon2 run, so callers
// can verify against "" for unknown users.
func (h *Hasher) Verify(pwd, encoded string) (match, needsRehash bool) {
	start := time.Now()
	if len(pwd) > maxPasswordLength {
		h.verifyInternal(strings.Repeat("x", maxPasswordLength), "")
	} else {
		match, needsRehash = h.verifyInternal(pwd, encoded)
	}
	if elapsed := time.Since(start); elapsed < h.verifyTime {
		time.Sleep(h.verifyTime - elapsed)
	}
	return match, needsRehash
}

type encodedHash struct {
	mem, time uint32
	threads   uint8
	salt      []byte
	hash      []byte
}

func (h *Hasher) decode(encoded string) (encodedHash, bool) {
	e := encodedHash{mem: h.p.Memory, time: h.p.Time, threads: h.p.Parallelism}
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return e, false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &e.mem, &e.time, &e.threads); err != nil {
		e.mem, e.time, e.threads = h.p.Memory, h.p.Time, h.p.Parallelism
		return e, false
	}
	if e.mem > 2*1024*1024 || e.time > 1000 || e.threads == 0 || e.threads > 128 {
		e.mem, e.time, e.threads = h.p.Memory, h.p.Time, h.p.Parallelism
		return e, false
	}
	var err error
	if e.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(e.salt) == 0 {
		return e, false
	}
	if e.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(e.hash) == 0 || len(e.hash) > 256 {
		return e, false
	}
	return e, true
}
func (h *Hasher) verifyInternal(pwd, encoded string) (bool, bool) {
	e, valid := h.decode(encoded)
	if !valid {
		e.salt = make([]byte, 16)
		e.hash = make([]byte, h.p.KeyLen)
	}
	defer util.Wipe(e.hash, e.salt)
	peppered := h.applyPepper(pwd)
	if peppered == nil {
		return false, false
	}
	defer util.Wipe(peppered)
	other := argon2.IDKey(peppered, e.salt, e.time, e.mem, e.threads, uint32(len(e.hash)))
	defer util.Wipe(other)
	match := subtle.ConstantTimeCompare(e.hash, other) == 1
	if !valid || !match {
		return false, false
	}
	needsRehash := e.mem != h.p.Memory || e.time != h.p.Time || e.threads != h.p.Parallelism ||
		uint32(len(e.hash)) != h.p.KeyLen
	return true, needsRehash
}
func (h *Hasher) applyPepper(password string) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.pepper) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

// RehashIfNeeded returns a fresh hash when oldHash matches but was made with
// other parameters. ok is false when the password does not match.
func (h *Hasher) RehashIfNeeded(ctx context.Context, password, oldHash string) (newHash string, ok bool, err error) {
	match, needsRehash := h.Verify(password, oldHash)
	if !match {
		return "", false, nil
	}
	if !needsRehash {
		return oldHash, true, nil
	}
	newHash, err = h.Hash(ctx, password)
	if err != nil {
		return "", true, err
	}
	return newHash, true, nil
}
