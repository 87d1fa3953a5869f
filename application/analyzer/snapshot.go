package analyzer

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	apperrors "datalens/pkg/errors"
)

// maxFileBytes caps how much of a file the snapshot loads. Larger files are
// skipped; they are generated artefacts in practice.
const maxFileBytes = 1 << 20

// skipDirs are pruned from the walk entirely
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	"dist":         {},
	"build":        {},
	".idea":        {},
	".vscode":      {},
}

// textExtensions is the allowlist of file types the agents inspect
var textExtensions = map[string]struct{}{
	".go": {}, ".ts": {}, ".tsx": {}, ".js": {}, ".jsx": {}, ".mjs": {},
	".json": {}, ".md": {}, ".css": {}, ".scss": {}, ".less": {},
	".html": {}, ".vue": {}, ".svelte": {}, ".yaml": {}, ".yml": {},
	".sql": {}, ".toml": {}, ".txt": {}, ".sh": {},
}

// File is one loaded source file. Paths are slash-separated and relative to
// the snapshot root.
type File struct {
	Path  string
	Lines []string
}

// Ext returns the lowercase file extension including the dot
func (f *File) Ext() string {
	return strings.ToLower(path.Ext(f.Path))
}

// Base returns the file name without its directory
func (f *File) Base() string {
	return path.Base(f.Path)
}

// Dir returns the containing directory, "." for root-level files
func (f *File) Dir() string {
	return path.Dir(f.Path)
}

// IsTest reports whether the file is a test by naming convention
func (f *File) IsTest() bool {
	name := f.Base()
	return strings.HasSuffix(name, "_test.go") ||
		strings.Contains(name, ".test.") ||
		strings.Contains(name, ".spec.")
}

// Snapshot is an immutable view of the module workspace taken once per run.
// All agents read the same snapshot, so a run is consistent even while the
// tree changes underneath.
type Snapshot struct {
	Root  string
	Files []*File

	// OtherFiles lists paths present in the tree whose content was not
	// loaded, binaries and oversized files. Name-based rules still see them.
	OtherFiles []string

	dirs       []string
	emptyDirs  []string
	moduleDirs map[string]struct{}
	allModules map[string]struct{}
	index      map[string]*File
}

// SkipDir reports whether the walk prunes this directory name by default.
// The watch loop uses it to keep its registrations aligned with snapshots.
func SkipDir(name string) bool {
	_, ok := skipDirs[name]
	return ok
}

// LoadSnapshot walks the workspace below root. When only is non-empty, the
// snapshot is restricted to that module's directory.
func LoadSnapshot(root, only string) (*Snapshot, error) {
	return LoadSnapshotExcluding(root, only, nil)
}

// LoadSnapshotExcluding loads a snapshot pruning the named directories on
// top of the built-in skip set. Exclusions match directory base names
// anywhere in the tree, the fengshui.yaml exclude contract.
func LoadSnapshotExcluding(root, only string, exclude []string) (*Snapshot, error) {
	skip := skipDirs
	if len(exclude) > 0 {
		skip = make(map[string]struct{}, len(skipDirs)+len(exclude))
		for name := range skipDirs {
			skip[name] = struct{}{}
		}
		for _, name := range exclude {
			if name = strings.TrimSpace(name); name != "" {
				skip[name] = struct{}{}
			}
		}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("module root %s is not readable: %v", root, err))
	}
	if !info.IsDir() {
		return nil, apperrors.NewConfigError(fmt.Sprintf("module root %s is not a directory", root))
	}

	snap := &Snapshot{
		Root:       root,
		moduleDirs: make(map[string]struct{}),
		index:      make(map[string]*File),
	}
	childCount := map[string]int{}

	walkErr := filepath.WalkDir(root, func(fullPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, fullPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if parent := path.Dir(rel); parent != "." {
			childCount[parent]++
		} else {
			childCount["."]++
		}

		if entry.IsDir() {
			if _, pruned := skip[entry.Name()]; pruned {
				return filepath.SkipDir
			}
			snap.dirs = append(snap.dirs, rel)
			return nil
		}

		if _, ok := textExtensions[path.Ext(strings.ToLower(rel))]; !ok {
			snap.OtherFiles = append(snap.OtherFiles, rel)
			return nil
		}
		fileInfo, err := entry.Info()
		if err != nil {
			return err
		}
		if fileInfo.Size() > maxFileBytes {
			snap.OtherFiles = append(snap.OtherFiles, rel)
			return nil
		}

		content, err := os.ReadFile(fullPath)
		if err != nil {
			return err
		}
		file := &File{
			Path:  rel,
			Lines: strings.Split(string(content), "\n"),
		}
		snap.Files = append(snap.Files, file)
		snap.index[rel] = file
		return nil
	})
	if walkErr != nil {
		return nil, apperrors.Wrap(walkErr, "walking module root")
	}

	// A module is any top-level directory carrying a descriptor
	for rel := range snap.index {
		parts := strings.Split(rel, "/")
		if len(parts) == 2 && parts[1] == "module.json" {
			snap.moduleDirs[parts[0]] = struct{}{}
		}
	}
	snap.allModules = snap.moduleDirs

	for _, dir := range snap.dirs {
		if childCount[dir] == 0 {
			snap.emptyDirs = append(snap.emptyDirs, dir)
		}
	}
	sort.Strings(snap.emptyDirs)
	sort.Strings(snap.OtherFiles)
	sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].Path < snap.Files[j].Path })

	if only != "" {
		return snap.restrict(only)
	}
	return snap, nil
}

// NewSnapshot builds a snapshot from in-memory content keyed by relative
// path. The preview validator assembles these from planned artefacts that
// exist nowhere on disk.
func NewSnapshot(root string, files map[string]string) *Snapshot {
	snap := &Snapshot{
		Root:       root,
		moduleDirs: make(map[string]struct{}),
		index:      make(map[string]*File),
	}
	for rel, content := range files {
		file := &File{Path: rel, Lines: strings.Split(content, "\n")}
		snap.Files = append(snap.Files, file)
		snap.index[rel] = file

		parts := strings.Split(rel, "/")
		if len(parts) == 2 && parts[1] == "module.json" {
			snap.moduleDirs[parts[0]] = struct{}{}
		}
	}
	snap.allModules = snap.moduleDirs
	sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].Path < snap.Files[j].Path })
	return snap
}

// restrict narrows the snapshot to one module's directory
func (s *Snapshot) restrict(moduleID string) (*Snapshot, error) {
	if _, ok := s.moduleDirs[moduleID]; !ok {
		return nil, apperrors.NewNotFoundError("module " + moduleID)
	}

	prefix := moduleID + "/"
	narrowed := &Snapshot{
		Root:       s.Root,
		moduleDirs: map[string]struct{}{moduleID: {}},
		allModules: s.allModules,
		index:      make(map[string]*File),
	}
	for _, file := range s.Files {
		if strings.HasPrefix(file.Path, prefix) {
			narrowed.Files = append(narrowed.Files, file)
			narrowed.index[file.Path] = file
		}
	}
	for _, other := range s.OtherFiles {
		if strings.HasPrefix(other, prefix) {
			narrowed.OtherFiles = append(narrowed.OtherFiles, other)
		}
	}
	for _, dir := range s.dirs {
		if dir == moduleID || strings.HasPrefix(dir, prefix) {
			narrowed.dirs = append(narrowed.dirs, dir)
		}
	}
	for _, dir := range s.emptyDirs {
		if strings.HasPrefix(dir, prefix) {
			narrowed.emptyDirs = append(narrowed.emptyDirs, dir)
		}
	}
	return narrowed, nil
}

// Get returns the loaded file at a relative path
func (s *Snapshot) Get(rel string) (*File, bool) {
	file, ok := s.index[rel]
	return file, ok
}

// Modules lists the module ids present in the snapshot, sorted
func (s *Snapshot) Modules() []string {
	ids := make([]string, 0, len(s.moduleDirs))
	for id := range s.moduleDirs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ModuleOf attributes a path to its owning module, "" for workspace files
// outside any module directory.
func (s *Snapshot) ModuleOf(rel string) string {
	first, _, _ := strings.Cut(rel, "/")
	if _, ok := s.moduleDirs[first]; ok {
		return first
	}
	return ""
}

// KnownModule reports whether id names a module anywhere in the workspace,
// even when the snapshot was restricted to a single module.
func (s *Snapshot) KnownModule(id string) bool {
	_, ok := s.allModules[id]
	return ok
}

// FilesUnder returns the files below a directory prefix
func (s *Snapshot) FilesUnder(dir string) []*File {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var out []*File
	for _, file := range s.Files {
		if strings.HasPrefix(file.Path, prefix) {
			out = append(out, file)
		}
	}
	return out
}

// EmptyDirs lists directories with no entries at all
func (s *Snapshot) EmptyDirs() []string {
	return s.emptyDirs
}
