package mp4

import (
	gomp4 "github.com/abema/go-mp4"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// boxType4 converts an abema/go-mp4 BoxType into the fixed [4]byte shape
// domain.Atom uses. The pre-loader only needs box-header conventions
// (type tags, big-endian size), not the library's full box tree decoder,
// since it must support chunk-spanning partial reads the library's
// all-at-once Decode does not model.
func boxType4(bt gomp4.BoxType) [4]byte {
	var out [4]byte
	copy(out[:], bt[:])
	return out
}

var (
	boxFtyp = boxType4(gomp4.BoxTypeFtyp())
	boxFree = boxType4(gomp4.BoxTypeFree())
	boxMoov = boxType4(gomp4.BoxTypeMoov())
	boxMdat = boxType4(gomp4.BoxTypeMdat())
)

func init() {
	// Keep domain's recognized-type table in sync with the library's
	// canonical box-type byte sequences rather than hand-duplicating them.
	domain.AtomTypeFtyp = boxFtyp
	domain.AtomTypeFree = boxFree
	domain.AtomTypeMoov = boxMoov
	domain.AtomTypeMdat = boxMdat
}
