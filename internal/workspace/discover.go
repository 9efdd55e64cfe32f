package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"lspbase/internal/record"
	"lspbase/internal/trace"
)

// compileMatcher builds the input directory matcher. The root is a literal
// path and is quoted; the pattern keeps regular expression syntax and is
// matched against the slash-separated remainder of a candidate path.
func compileMatcher(root, pattern string) (*regexp.Regexp, error) {
	rootSlash := strings.TrimSuffix(filepath.ToSlash(root), "/")
	pattern = strings.Trim(filepath.ToSlash(pattern), "/")
	pattern = strings.TrimPrefix(pattern, "./")
	return regexp.Compile("^" + regexp.QuoteMeta(rootSlash) + "/(?:" + pattern + ")$")
}

// discoverLocked walks the workspace breadth-first looking for input
// directories. Accepted directories are enumerated for record files and not
// descended into. Unreadable directories are skipped.
func (idx *Index) discoverLocked() {
	settings := idx.settings()
	span := trace.Begin(idx.tracer, trace.ScopeWorkspace, "discover", 0)
	defer func() {
		span.WithExtra("inputs", strconv.Itoa(len(idx.inputDirs))).
			WithExtra("keys", strconv.Itoa(len(idx.files))).
			End(idx.root)
	}()

	matcher, err := compileMatcher(idx.root, settings.InputPathPattern)
	if err != nil {
		trace.Error(idx.tracer, trace.ScopeWorkspace, "input pattern", err)
		return
	}
	loader := idx.newLoader(settings)

	queue := []string{idx.root}
	for i := 0; i < len(queue); i++ {
		dir := queue[i]
		entries, err := os.ReadDir(dir)
		if err != nil {
			trace.Error(idx.tracer, trace.ScopeWorkspace, "skip directory", err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			p := filepath.Join(dir, entry.Name())
			if !matcher.MatchString(filepath.ToSlash(p)) {
				queue = append(queue, p)
				continue
			}
			if info, err := os.Stat(p); err != nil || !info.IsDir() {
				continue
			}
			idx.inputDirs = append(idx.inputDirs, p)
			idx.enumerateLocked(p, settings.RecordExtension, loader)
			idx.inputEnabled = true
		}
	}
}

// enumerateLocked registers every record file below inputDir. A key seen
// before gets an additional load into its existing File.
func (idx *Index) enumerateLocked(inputDir, ext string, loader *record.Loader) {
	span := trace.Begin(idx.tracer, trace.ScopeWorkspace, "enumerate", 0)
	found := 0
	defer func() {
		span.WithExtra("files", strconv.Itoa(found)).End(inputDir)
	}()

	type pending struct {
		abs string
		rel string
	}
	work := []pending{{abs: inputDir}}
	for i := 0; i < len(work); i++ {
		cur := work[i]
		entries, err := os.ReadDir(cur.abs)
		if err != nil {
			trace.Error(idx.tracer, trace.ScopeWorkspace, "skip directory", err)
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			abs := filepath.Join(cur.abs, name)
			if entry.IsDir() {
				work = append(work, pending{abs: abs, rel: filepath.Join(cur.rel, name)})
				continue
			}
			// a file named just ext has no key
			if !entry.Type().IsRegular() || filepath.Ext(name) != ext || name == ext {
				continue
			}
			key := RecordKey(cur.rel, name, ext)
			file, ok := idx.files[key]
			if !ok {
				file = record.NewFile(key)
				idx.files[key] = file
			}
			file.Load(loader, abs)
			found++
			trace.Point(idx.tracer, trace.ScopeRecord, "record file", key+" <- "+abs)
		}
	}
}
