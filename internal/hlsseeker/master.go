// Package hlsseeker implements on-demand HLS playlist synthesis, segment
// encryption, and crypto-key rotation for already-committed transcoded
// variants, per spec.md §4.6.
package hlsseeker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/domain/ports"
	"github.com/metalalive/transcoder-core/internal/metrics"
)

// URLLabels names the query-string keys used when synthesizing playlist
// URLs, configurable per spec.md §6.
type URLLabels struct {
	ResourceID string // default "rid"
	Version    string // default "ver"
	Detail     string // default "detail"
}

func (l URLLabels) orDefaults() URLLabels {
	if l.ResourceID == "" {
		l.ResourceID = "rid"
	}
	if l.Version == "" {
		l.Version = "ver"
	}
	if l.Detail == "" {
		l.Detail = "detail"
	}
	return l
}

// Seeker serves master/secondary playlists, segments, and keys for
// committed transcode outputs.
type Seeker struct {
	Backend ports.StorageBackend
	Host    string
	Labels  URLLabels

	PlaylistUpdateInterval time.Duration

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

func NewSeeker(backend ports.StorageBackend, host string, labels URLLabels, updateInterval time.Duration) *Seeker {
	return &Seeker{
		Backend:                backend,
		Host:                   host,
		Labels:                 labels.orDefaults(),
		PlaylistUpdateInterval: updateInterval,
		limiters:               make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the per-path rate limiter enforcing the
// playlist_update_interval throttle, creating it on first use.
func (s *Seeker) limiterFor(path string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	lim, ok := s.limiters[path]
	if !ok {
		interval := s.PlaylistUpdateInterval
		if interval <= 0 {
			interval = time.Second
		}
		lim = rate.NewLimiter(rate.Every(interval), 1)
		s.limiters[path] = lim
	}
	return lim
}

func (s *Seeker) playlistURL(resourceID, version, detail string) string {
	return fmt.Sprintf("https://%s?%s=%s&%s=%s&%s=%s", s.Host, s.Labels.ResourceID, resourceID, s.Labels.Version, version, s.Labels.Detail, detail)
}

// BuildMasterPlaylist scans the committed source directory for version
// subdirectories, copies each one's #EXT-X-STREAM-INF line with a
// synthesized URL, and concatenates them under a process-wide flock.
// Returns a capacity error (ErrKindCapacity -> 429) if called again
// before PlaylistUpdateInterval has elapsed since the last call for this
// aggregatePath that passed the throttle, whether that build succeeded or
// failed.
func (s *Seeker) BuildMasterPlaylist(ctx context.Context, committedBase, resourceID, aggregatePath string) ([]byte, error) {
	lim := s.limiterFor(aggregatePath)
	if !lim.Allow() {
		metrics.HLSPlaylistRateLimitedTotal.Inc()
		ei := domain.NewKindError(domain.ErrKindCapacity, "playlist update interval too short")
		return nil, ei
	}

	versions, err := s.Backend.Scandir(ctx, committedBase)
	if err != nil {
		metrics.HLSPlaylistBuildsTotal.WithLabelValues("master", "error").Inc()
		return nil, domain.NewKindError(domain.ErrKindStorage, "hlsseeker: scandir %s: %v", committedBase, err)
	}

	var out strings.Builder
	out.WriteString("#EXTM3U\n")
	for _, version := range versions {
		streamInf, err := s.readStreamInf(ctx, committedBase, version)
		if err != nil {
			metrics.HLSPlaylistBuildsTotal.WithLabelValues("master", "error").Inc()
			return nil, err
		}
		out.WriteString(streamInf)
		out.WriteString("\n")
		out.WriteString(s.playlistURL(resourceID, version, "playlist.m3u8"))
		out.WriteString("\n")
	}

	if err := s.writeLocked(aggregatePath, []byte(out.String())); err != nil {
		metrics.HLSPlaylistBuildsTotal.WithLabelValues("master", "error").Inc()
		return nil, err
	}
	metrics.HLSPlaylistBuildsTotal.WithLabelValues("master", "success").Inc()
	return []byte(out.String()), nil
}

// readStreamInf opens the per-version master playlist and returns its
// #EXT-X-STREAM-INF line verbatim.
func (s *Seeker) readStreamInf(ctx context.Context, committedBase, version string) (string, error) {
	key := committedBase + "/" + version + "/master.m3u8"
	rc, err := s.Backend.Open(ctx, key)
	if err != nil {
		return "", domain.NewKindError(domain.ErrKindStorage, "hlsseeker: open %s: %v", key, err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			return line, nil
		}
	}
	return "", domain.NewKindError(domain.ErrKindFormat, "hlsseeker: %s missing #EXT-X-STREAM-INF", key)
}

// writeLocked serializes concurrent *processes* writing the aggregate
// master file via an advisory flock; threads within this process already
// serialize through the rate limiter's mutex.
func (s *Seeker) writeLocked(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return domain.NewKindError(domain.ErrKindStorage, "hlsseeker: open aggregate %s: %v", path, err)
	}
	defer f.Close()

	if err := flockExclusive(f); err != nil {
		return domain.NewKindError(domain.ErrKindStorage, "hlsseeker: flock %s: %v", path, err)
	}
	defer funlock(f)

	if _, err := f.Write(content); err != nil {
		return domain.NewKindError(domain.ErrKindStorage, "hlsseeker: write aggregate %s: %v", path, err)
	}
	return nil
}
