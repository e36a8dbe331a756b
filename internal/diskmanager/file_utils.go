package diskmanager

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"
)

// allowedFileTypes lists the clip extensions subject to quota enforcement
var allowedFileTypes = []string{".wav"}

// FileInfo holds information about a clip on disk
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// GetAudioFiles returns the clips in baseDir and its subdirectories. A
// missing directory yields no files.
func GetAudioFiles(baseDir string, allowedExts []string) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == baseDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !slices.Contains(allowedExts, strings.ToLower(filepath.Ext(d.Name()))) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// removed between listing and stat
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		files = append(files, FileInfo{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})

		// Yield to other goroutines
		runtime.Gosched()
		return nil
	})

	return files, err
}

// totalSize sums the sizes of files
func totalSize(files []FileInfo) int64 {
	var total int64
	for i := range files {
		total += files[i].Size
	}
	return total
}

// sortOldestFirst orders files by modification time, path breaks ties
func sortOldestFirst(files []FileInfo) {
	slices.SortFunc(files, func(a, b FileInfo) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
}
