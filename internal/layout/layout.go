package layout

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"

	"github.com/xxxsen/romget/internal/rominfo"
)

// ArchiveExt is appended to the file name of multi-file ROMs, which the
// catalog serves as a single archive.
const ArchiveExt = ".zip"

// ErrNoDestination means the mapped destination of a game is missing.
var ErrNoDestination = errors.New("mapped destination cannot be resolved")

var (
	illegalNameRegexp = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)
	whitespaceRegexp  = regexp.MustCompile(`\s+`)
	fileExtLikeRegexp = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)
)

const unknownDisplayName = "unknown"

// Planner computes where a game is installed.
type Planner struct {
	romanize bool
}

// NewPlanner builds a planner. With romanize set, CJK characters in display
// names are written as pinyin.
func NewPlanner(romanize bool) *Planner {
	return &Planner{romanize: romanize}
}

// Plan returns the base directory of a game below baseDestination.
func (p *Planner) Plan(baseDestination, displayName string) (string, error) {
	if strings.TrimSpace(baseDestination) == "" {
		return "", ErrNoDestination
	}
	return filepath.Join(baseDestination, p.Sanitize(displayName)), nil
}

// Sanitize turns a display name into a single directory name.
func (p *Planner) Sanitize(name string) string {
	name = displayStem(strings.TrimSpace(name))
	if p.romanize {
		name = romanize(name)
	}
	name = whitespaceRegexp.ReplaceAllString(name, " ")
	name = illegalNameRegexp.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if name == "" {
		return unknownDisplayName
	}
	return name
}

// displayStem drops a trailing file extension, but only one that looks like
// an extension, so "Dr. Mario" stays intact.
func displayStem(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || !fileExtLikeRegexp.MatchString(ext) {
		return name
	}
	return strings.TrimSuffix(name, ext)
}

func romanize(name string) string {
	args := pinyin.NewArgs()
	var sb strings.Builder
	var han []rune
	flush := func() {
		if len(han) == 0 {
			return
		}
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), " ") {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.Join(pinyin.LazyPinyin(string(han), args), " "))
		sb.WriteByte(' ')
		han = han[:0]
	}
	for _, r := range name {
		if unicode.Is(unicode.Han, r) {
			han = append(han, r)
			continue
		}
		flush()
		sb.WriteRune(r)
	}
	flush()
	return strings.TrimSpace(sb.String())
}

// Stem returns the file name without directory and extension.
func Stem(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// InstallDir returns the directory one variant is installed into. A lone
// variant uses the base directory, several variants get one sub-directory
// each, named after the variant's file stem.
func InstallDir(baseGamePath string, info *rominfo.RomInfo, variantCount int) string {
	if variantCount > 1 {
		return filepath.Join(baseGamePath, Stem(info.FileName))
	}
	return baseGamePath
}

// DownloadTarget returns the path the transfer writes for info.
func DownloadTarget(installDir string, info *rominfo.RomInfo) string {
	if info.HasMultipleFiles {
		return filepath.Join(installDir, info.FileName+ArchiveExt)
	}
	return filepath.Join(installDir, info.FileName)
}

// Dirs computes the install directory of every variant, rejecting layouts
// where two variants would share a directory.
func Dirs(baseGamePath string, infos []*rominfo.RomInfo) ([]string, error) {
	dirs := make([]string, 0, len(infos))
	seen := make(map[string]int, len(infos))
	for i, info := range infos {
		dir := InstallDir(baseGamePath, info, len(infos))
		if prev, ok := seen[dir]; ok && len(infos) > 1 {
			return nil, fmt.Errorf("variants %d and %d share install dir %s", prev, i, dir)
		}
		seen[dir] = i
		dirs = append(dirs, dir)
	}
	return dirs, nil
}
