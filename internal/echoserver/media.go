package echoserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// handleStream serves /stream/video.mp4, /stream/index.m3u8 and
// /stream/segment-<n>.ts.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/stream/")
	switch {
	case name == "index.m3u8":
		s.servePlaylist(w)
	case strings.HasPrefix(name, "segment-") && strings.HasSuffix(name, ".ts"):
		index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "segment-"), ".ts"))
		if err != nil || index < 1 || index > s.opts.Segments {
			http.NotFound(w, r)
			return
		}
		if index == s.opts.StallSegment && s.opts.StallFor > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.opts.StallFor):
			}
		}
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Content-Length", strconv.Itoa(s.opts.SegmentSize))
		s.writeBody(r.Context(), w, int64(s.opts.SegmentSize), s.opts.MediaRate)
	case strings.HasSuffix(name, ".mp4"):
		size, err := sizeParam(r, "size", s.opts.MediaSize)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		s.writeBody(r.Context(), w, size, s.opts.MediaRate)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) servePlaylist(w http.ResponseWriter) {
	var b strings.Builder
	seconds := s.opts.SegmentDuration.Seconds()
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(seconds+0.999))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:1\n")
	for i := 1; i <= s.opts.Segments; i++ {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\nsegment-%d.ts\n", seconds, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(b.String()))
}
