package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// MaxTitleLen bounds an EDL title. CMX3600 readers cut the TITLE line at 70
// columns.
const MaxTitleLen = 70

// Title turns a session name into a single-line EDL title. Whitespace runs
// collapse to one space, other control characters are dropped and anything
// an NLE might choke on becomes '_'. An empty result falls back to
// DefaultTitle.
func Title(name string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		case unicode.IsControl(r):
			continue
		case !isTitleRune(r):
			r = '_'
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}

	title := trimTitle(b.String())
	if runes := []rune(title); len(runes) > MaxTitleLen {
		title = trimTitle(string(runes[:MaxTitleLen]))
	}
	if title == "" {
		return DefaultTitle
	}
	return title
}

func trimTitle(s string) string {
	return strings.Trim(s, " .")
}

func isTitleRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')', '\'':
		return true
	default:
		return false
	}
}

// FileName is the export file name for a title: spaces become '_' so the
// path survives shell scripts and conform tools.
func FileName(title string, format Format) string {
	stem := strings.Map(func(r rune) rune {
		switch r {
		case ' ':
			return '_'
		case '\'', ',':
			return -1
		}
		return r
	}, Title(title))
	return stem + format.Ext()
}

// ValidateOutputDir requires an existing directory given as a clean path
// with no ".." segments.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalidOutputDir)
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("%w: output_dir cannot contain path traversal", ErrInvalidOutputDir)
		}
	}
	if filepath.Clean(dir) != dir {
		return fmt.Errorf("%w: output_dir must be clean path", ErrInvalidOutputDir)
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: output_dir does not exist", ErrInvalidOutputDir)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrInvalidOutputDir, err)
	case !info.IsDir():
		return fmt.Errorf("%w: output_dir is not a directory", ErrInvalidOutputDir)
	}
	return nil
}
