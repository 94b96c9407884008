package middleware

import (
	"net/http"
	"path"
	"strings"
)

// SkipCompressionForMedia wraps a compression middleware so HLS playlists
// and MPEG-TS segments are served uncompressed.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isMediaPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

func isMediaPath(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".ts", ".m3u8":
		return true
	default:
		return false
	}
}
