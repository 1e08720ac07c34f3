package staticfile

import (
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListingContentType is the declared type of generated directory listings.
const ListingContentType = "text/html; charset=utf-8"

type listingEntry struct {
	display string
	link    string
}

// ListDirectory renders an HTML index of dirPath. displayPath is the decoded
// request path shown in the title and heading. The returned resource is sized
// exactly to the generated document.
func ListDirectory(dirPath, displayPath string) (*MemResource, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirectoryUnreadable, dirPath, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	items := make([]listingEntry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		item := listingEntry{display: name, link: escapeLinkName(name)}

		// os.Stat follows links, so a link to a directory is listed as one.
		if fi, err := os.Stat(filepath.Join(dirPath, name)); err == nil && fi.IsDir() {
			item.display += "/"
			item.link += "/"
		}
		if entry.Type()&os.ModeSymlink != 0 {
			item.display = name + "@"
		}
		items = append(items, item)
	}

	return NewMemResource(renderListing(displayPath, items)), nil
}

// PathEscape keeps sub-delimiters such as ':' that would let a name like
// "javascript:x" read as a scheme, so those are encoded as well.
var linkReplacer = strings.NewReplacer(
	":", "%3A", "@", "%40", "$", "%24", "&", "%26",
	"+", "%2B", ",", "%2C", ";", "%3B", "=", "%3D",
)

func escapeLinkName(name string) string {
	return linkReplacer.Replace(url.PathEscape(name))
}

func renderListing(displayPath string, items []listingEntry) []byte {
	title := html.EscapeString(displayPath)

	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html PUBLIC "-//W3C//DTD HTML 3.2 Final//EN">`)
	fmt.Fprintf(&sb, "<html>\n<title>Directory listing for %s</title>\n", title)
	fmt.Fprintf(&sb, "<body>\n<h2>Directory listing for %s</h2>\n", title)
	sb.WriteString("<hr>\n<ul>\n")
	for _, it := range items {
		fmt.Fprintf(&sb, "<li><a href=\"%s\">%s</a>\n", html.EscapeString(it.link), html.EscapeString(it.display))
	}
	sb.WriteString("</ul>\n<hr>\n</body>\n</html>\n")
	return []byte(sb.String())
}
