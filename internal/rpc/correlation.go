package rpc

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// CorrelationID builds the `rpc.media.<fn>.corr_id.<40-hex-sha1>` identifier
// named in spec.md §6, hashing usr_id || timestamp || each version label (4
// bytes apiece) in a deterministic order.
func CorrelationID(fn string, usrID uint32, timestamp int64, versions []domain.VersionLabel) string {
	h := sha1.New()

	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], usrID)
	h.Write(idBuf[:])

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp))
	h.Write(tsBuf[:])

	sorted := make([]domain.VersionLabel, len(versions))
	copy(sorted, versions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, v := range sorted {
		h.Write([]byte(v))
	}

	sum := h.Sum(nil)
	return fmt.Sprintf("rpc.media.%s.corr_id.%s", fn, hex.EncodeToString(sum))
}
