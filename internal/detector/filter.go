package detector

import "strings"

// Extensions that never contain scannable text: binaries, media, archives,
// fonts, and bundled or minified assets.
var extDenylist = []string{
	// Binaries / media
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".svg", ".ico", ".webp",
	".mp3", ".wav", ".flac", ".ogg",
	".mp4", ".mov", ".avi", ".wmv", ".mkv",
	".zip", ".gz", ".tar", ".rar", ".7z",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".eot", ".ttf", ".woff", ".woff2",
	".bin", ".exe", ".iso", ".img", ".dmg",
	".log",

	// Bundled / minified assets
	".min.js",
	".bundle.js",
	".map",
}

// Path fragments for generated lockfiles and vendored or built trees.
var pathDenylist = []string{
	// Lockfiles
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"composer.lock",
	"gemfile.lock",
	"go.sum",

	// Common vendor/build paths
	"vendor/",
	"node_modules/",
	"/dist/",
	"/build/",
	"/.next/",
	"/.vercel/",
	"/.venv/",
	"/.git/",
	"/fixtures/",
	"/testdata/",
}

// IsScannable decides whether a file is worth fetching and scanning based on
// its path and size. Size is in bytes; pass a negative size when the tree
// listing did not report one. Rules are checked in order and the first match
// decides. The function is pure and never fails.
func IsScannable(path string, size, maxSize int64) bool {
	// 1. Size cap guards memory and fetch latency
	if size >= 0 && size > maxSize {
		return false
	}

	lowerPath := strings.ToLower(path)

	// 2. Extension denylist
	for _, ext := range extDenylist {
		if strings.HasSuffix(lowerPath, ext) {
			return false
		}
	}

	// 3. Denylisted path fragments
	for _, denied := range pathDenylist {
		if strings.Contains(lowerPath, denied) {
			return false
		}
	}

	return true
}
