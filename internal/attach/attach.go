// Package attach loads turn attachments from the filesystem by glob
// pattern.
package attach

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/danshapiro/socratic/internal/turnlog"
)

// Load expands each pattern (doublestar syntax, e.g. "notes/**/*.md")
// relative to root and reads every match into an attachment. Matches are
// deduplicated and returned in path order.
func Load(root string, patterns []string) ([]turnlog.Attachment, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	fsys := os.DirFS(root)

	seen := map[string]bool{}
	var paths []string
	for _, pat := range patterns {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		matches, err := doublestar.Glob(fsys, pat)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pat, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)

	out := make([]turnlog.Attachment, 0, len(paths))
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		info, err := os.Stat(full)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, err
		}
		mimeType := mime.TypeByExtension(filepath.Ext(p))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		kind := turnlog.AttachmentText
		if strings.HasPrefix(mimeType, "image/") {
			kind = turnlog.AttachmentImage
		}
		out = append(out, turnlog.Attachment{
			Name:     filepath.Base(p),
			Kind:     kind,
			MIMEType: mimeType,
			Data:     data,
		})
	}
	return out, nil
}
