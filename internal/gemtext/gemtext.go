// Package gemtext generates gemtext output for the parts of the server
// that produce it themselves rather than serving it from a file, chiefly
// the auto-generated directory listing described in spec.md §6.3.
package gemtext

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Writer accumulates gemtext lines using the fixed line-prefix
// grammar: headings, links, list items, quotes, and preformat toggles.
type Writer struct {
	b strings.Builder
}

// Heading1/2/3 append a "#"/"##"/"###" heading line.
func (w *Writer) Heading1(text string) { fmt.Fprintf(&w.b, "# %s\n", text) }
func (w *Writer) Heading2(text string) { fmt.Fprintf(&w.b, "## %s\n", text) }
func (w *Writer) Heading3(text string) { fmt.Fprintf(&w.b, "### %s\n", text) }

// Link appends a "=> URL [desc]" line. The link URL is the first
// whitespace-separated token; desc, if non-empty, follows it.
func (w *Writer) Link(url, desc string) {
	if desc == "" {
		fmt.Fprintf(&w.b, "=> %s\n", url)
		return
	}
	fmt.Fprintf(&w.b, "=> %s %s\n", url, desc)
}

// ListItem appends a "* " line.
func (w *Writer) ListItem(text string) { fmt.Fprintf(&w.b, "* %s\n", text) }

// Quote appends a "> " line.
func (w *Writer) Quote(text string) { fmt.Fprintf(&w.b, "> %s\n", text) }

// Preformat toggles a "```" fence around the following lines, which
// are emitted verbatim (no prefix rewriting).
func (w *Writer) Preformat(lines []string) {
	w.b.WriteString("```\n")
	for _, l := range lines {
		w.b.WriteString(l)
		w.b.WriteByte('\n')
	}
	w.b.WriteString("```\n")
}

// Text appends a plain gemtext line.
func (w *Writer) Text(text string) { fmt.Fprintf(&w.b, "%s\n", text) }

// Bytes returns the accumulated gemtext document.
func (w *Writer) Bytes() []byte { return []byte(w.b.String()) }

// Listing generates a directory listing for entries (a mix of files
// and subdirectories already filtered to what the caller wants
// visible). isRoot suppresses the leading "../" entry, matching
// spec.md §6.3's "with ../ first when the directory is not the
// document root."
func Listing(title string, entries []os.DirEntry, isRoot bool) []byte {
	var w Writer
	w.Heading1(title)

	if !isRoot {
		w.Link("../", "")
	}

	var dirs, files []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name() < dirs[j].Name() })
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	for _, d := range dirs {
		w.Link("./"+d.Name()+"/", "")
	}
	for _, f := range files {
		w.Link("./"+f.Name(), f.Name())
	}

	return w.Bytes()
}
