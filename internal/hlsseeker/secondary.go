package hlsseeker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/metrics"
)

// requiredTags are the tags spec.md §4.6 requires a secondary (media)
// playlist to carry before it can be served, with EXT-X-MAP required to
// precede the first EXTINF.
var requiredTags = []string{
	"#EXTM3U",
	"#EXT-X-VERSION",
	"#EXT-X-TARGETDURATION",
	"#EXT-X-PLAYLIST-TYPE",
	"#EXT-X-MAP",
	"#EXTINF",
}

// playlistCursor tracks the running segment counter used to synthesize
// segment URLs within one BuildSecondaryPlaylist call, kept as a dedicated
// value rather than repurposing a read-position field shared with another
// union member (see DESIGN.md's Open Question decision on the repurposed
// cursor bug). It is not kept between calls: each call emits the whole
// playlist in one buffer and starts counting again at segment-001.
type playlistCursor struct {
	nextSegment int
}

func validateTags(lines []string) error {
	seen := make(map[string]int)
	for i, line := range lines {
		for _, tag := range requiredTags {
			if strings.HasPrefix(line, tag) {
				if _, ok := seen[tag]; !ok {
					seen[tag] = i
				}
			}
		}
	}
	for _, tag := range requiredTags {
		if _, ok := seen[tag]; !ok {
			return domain.NewKindError(domain.ErrKindFormat, "hlsseeker: secondary playlist missing required tag %s", tag)
		}
	}
	if seen["#EXT-X-MAP"] > seen["#EXTINF"] {
		return domain.NewKindError(domain.ErrKindFormat, "hlsseeker: #EXT-X-MAP must precede #EXTINF")
	}
	return nil
}

// KeySource supplies the currently-active encryption key metadata for a
// version's segments (its key URI and hex-encoded IV), implemented by
// cryptokey.go's KeyRing.
type KeySource interface {
	CurrentKeyURI(version string) (uri string, ivHex string, ok bool)
}

// BuildSecondaryPlaylist reads a version's raw encoder-emitted playlist,
// validates its required tag set, rewrites the EXT-X-MAP URI and segment
// URLs to fully-qualified playlist URLs, and injects an EXT-X-KEY tag
// naming the version's current encryption key.
func (s *Seeker) BuildSecondaryPlaylist(ctx context.Context, rawKey, resourceID, version string, keys KeySource) ([]byte, error) {
	rc, err := s.Backend.Open(ctx, rawKey)
	if err != nil {
		metrics.HLSPlaylistBuildsTotal.WithLabelValues("secondary", "error").Inc()
		return nil, domain.NewKindError(domain.ErrKindStorage, "hlsseeker: open %s: %v", rawKey, err)
	}
	defer rc.Close()

	var lines []string
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		metrics.HLSPlaylistBuildsTotal.WithLabelValues("secondary", "error").Inc()
		return nil, domain.NewKindError(domain.ErrKindStorage, "hlsseeker: read %s: %v", rawKey, err)
	}
	if err := validateTags(lines); err != nil {
		metrics.HLSPlaylistBuildsTotal.WithLabelValues("secondary", "error").Inc()
		return nil, err
	}

	// Segment objects are named starting at segment-001.m4s (builtin.go's
	// HLS pipeline increments its counter before formatting the first key),
	// so the cursor must start at 1 too.
	cursor := &playlistCursor{nextSegment: 1}
	var out bytes.Buffer
	keyInjected := false

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXT-X-MAP"):
			uri := extractURI(line)
			rewritten := strings.Replace(line, uri, s.playlistURL(resourceID, version, uri), 1)
			out.WriteString(rewritten)
			out.WriteString("\n")
		case strings.HasPrefix(line, "#EXTINF"):
			if !keyInjected {
				if uri, ivHex, ok := keyURIOf(keys, version); ok {
					fmt.Fprintf(&out, "#EXT-X-KEY:METHOD=AES-128,URI=%q,IV=0x%s\n", uri, ivHex)
				}
				keyInjected = true
			}
			out.WriteString(line)
			out.WriteString("\n")
		case isSegmentURILine(line):
			segURL := s.playlistURL(resourceID, version, hls_SegmentName(cursor.nextSegment))
			cursor.nextSegment++
			out.WriteString(segURL)
			out.WriteString("\n")
		default:
			out.WriteString(line)
			out.WriteString("\n")
		}
	}

	metrics.HLSPlaylistBuildsTotal.WithLabelValues("secondary", "success").Inc()
	return out.Bytes(), nil
}

func keyURIOf(keys KeySource, version string) (string, string, bool) {
	if keys == nil {
		return "", "", false
	}
	return keys.CurrentKeyURI(version)
}

func isSegmentURILine(line string) bool {
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	return strings.HasSuffix(line, ".m4s") || strings.HasSuffix(line, ".ts")
}

func extractURI(tag string) string {
	const marker = "URI=\""
	i := strings.Index(tag, marker)
	if i < 0 {
		return ""
	}
	rest := tag[i+len(marker):]
	j := strings.Index(rest, "\"")
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// hls_SegmentName mirrors hls.SegmentName's NNN padding without importing
// the hls package, keeping hlsseeker independent of the encoder pipeline.
func hls_SegmentName(n int) string {
	return "segment-" + pad3(n) + ".m4s"
}

func pad3(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
