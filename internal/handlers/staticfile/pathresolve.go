package staticfile

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ResolvePath maps a request-target onto a filesystem path inside root.
//
// The query and fragment are dropped, the rest is percent-decoded and
// normalized with slash semantics regardless of the host OS. Empty, "." and
// ".." segments are discarded and every remaining segment loses any volume
// name or host-separated prefix before it is joined onto root, so the result
// is always root itself or a descendant of it.
func ResolvePath(root, requestTarget string) (string, error) {
	p := requestTarget
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPath, requestTarget, err)
	}

	resolved := filepath.Clean(root)
	for _, seg := range strings.Split(path.Clean("/"+decoded), "/") {
		seg = lastHostElement(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		resolved = filepath.Join(resolved, seg)
	}

	if !isWithinRoot(root, resolved) {
		return "", fmt.Errorf("%w: %q escapes document root", ErrInvalidPath, requestTarget)
	}
	return resolved, nil
}

// lastHostElement strips a drive or volume qualifier and anything up to the
// last host path separator, leaving a single name.
func lastHostElement(seg string) string {
	seg = seg[len(filepath.VolumeName(seg)):]
	for i := len(seg) - 1; i >= 0; i-- {
		if os.IsPathSeparator(seg[i]) {
			return seg[i+1:]
		}
	}
	return seg
}

func isWithinRoot(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
