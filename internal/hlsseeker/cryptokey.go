package hlsseeker

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/metrics"
)

// KeyEntry is one generation of a version's AES-128 key, matching the
// crypto-key.json layout named in spec.md §4.5.
type KeyEntry struct {
	KeyID     uint32    `json:"key_id"`
	Key       []byte    `json:"key"`
	IV        []byte    `json:"iv"`
	CreatedAt time.Time `json:"created_at"`
}

func (e KeyEntry) URI(base string) string {
	return fmt.Sprintf("%s/crypto-key/%08x", base, e.KeyID)
}

// KeyRing holds the rotating set of keys for one version, evicting
// generations older than 4x the rotation interval per spec.md §4.6.
type KeyRing struct {
	mu             sync.Mutex
	updateInterval time.Duration
	baseURI        string
	entries        []KeyEntry
}

func NewKeyRing(updateInterval time.Duration, baseURI string) *KeyRing {
	return &KeyRing{updateInterval: updateInterval, baseURI: baseURI}
}

// Rotate generates a fresh key/IV/id if the newest entry is older than
// updateInterval (or none exists yet), then evicts entries older than
// 4x updateInterval. Returns the current (possibly just-rotated) entry.
func (r *KeyRing) Rotate(now time.Time) (KeyEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 || now.Sub(r.entries[len(r.entries)-1].CreatedAt) >= r.updateInterval {
		entry, err := generateKeyEntry(now)
		if err != nil {
			return KeyEntry{}, err
		}
		r.entries = append(r.entries, entry)
		metrics.HLSKeyRotationsTotal.Inc()
	}

	r.evictLocked(now)
	return r.entries[len(r.entries)-1], nil
}

func (r *KeyRing) evictLocked(now time.Time) {
	maxAge := 4 * r.updateInterval
	kept := r.entries[:0]
	for _, e := range r.entries {
		if now.Sub(e.CreatedAt) <= maxAge {
			kept = append(kept, e)
		} else {
			metrics.HLSKeyEvictionsTotal.Inc()
		}
	}
	r.entries = kept
}

// CurrentKeyURI implements KeySource for the secondary playlist builder.
func (r *KeyRing) CurrentKeyURI(version string) (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return "", "", false
	}
	current := r.entries[len(r.entries)-1]
	return current.URI(r.baseURI + "/" + version), hex.EncodeToString(current.IV), true
}

// EntryByID looks up a prior generation for decrypting segments written
// under an older key, returning ok=false if it has already been evicted.
func (r *KeyRing) EntryByID(keyID uint32) (KeyEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.KeyID == keyID {
			return e, true
		}
	}
	return KeyEntry{}, false
}

func (r *KeyRing) MarshalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(r.entries)
}

func generateKeyEntry(now time.Time) (KeyEntry, error) {
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return KeyEntry{}, domain.NewKindError(domain.ErrKindTranscoder, "hlsseeker: generate key: %v", err)
	}
	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return KeyEntry{}, domain.NewKindError(domain.ErrKindTranscoder, "hlsseeker: generate iv: %v", err)
	}
	idBytes := make([]byte, 4)
	if _, err := rand.Read(idBytes); err != nil {
		return KeyEntry{}, domain.NewKindError(domain.ErrKindTranscoder, "hlsseeker: generate key id: %v", err)
	}
	return KeyEntry{
		KeyID:     binary.BigEndian.Uint32(idBytes),
		Key:       key,
		IV:        iv,
		CreatedAt: now,
	}, nil
}
