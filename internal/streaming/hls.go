package streaming

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

// segment is one media segment of an HLS playlist.
type segment struct {
	URL      string
	Duration time.Duration
}

// playlist is a parsed HLS playlist. A master playlist lists variants
// instead of segments.
type playlist struct {
	Segments []segment
	Variants []string
}

var errNotPlaylist = errors.New("invalid playlist")

// parsePlaylist parses an HLS playlist. Relative URIs are resolved against
// base.
func parsePlaylist(base *url.URL, data []byte) (playlist, error) {
	decoded, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return playlist{}, fmt.Errorf("%w: %v", errNotPlaylist, err)
	}

	var pl playlist
	switch listType {
	case m3u8.MASTER:
		master := decoded.(*m3u8.MasterPlaylist)
		for _, v := range master.Variants {
			if v == nil {
				continue
			}
			resolved, err := resolveURI(base, v.URI)
			if err != nil {
				return playlist{}, err
			}
			pl.Variants = append(pl.Variants, resolved)
		}
	case m3u8.MEDIA:
		media := decoded.(*m3u8.MediaPlaylist)
		for _, seg := range media.Segments {
			// Segments is allocated with spare capacity; unused slots are nil.
			if seg == nil {
				break
			}
			resolved, err := resolveURI(base, seg.URI)
			if err != nil {
				return playlist{}, err
			}
			pl.Segments = append(pl.Segments, segment{
				URL:      resolved,
				Duration: time.Duration(seg.Duration * float64(time.Second)),
			})
		}
	}
	return pl, nil
}

func resolveURI(base *url.URL, uri string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return "", fmt.Errorf("invalid playlist uri %q: %w", uri, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// isPlaylist reports whether a resource looks like an HLS playlist by its
// URL or content type.
func isPlaylist(target, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}
