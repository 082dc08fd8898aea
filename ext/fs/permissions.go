package fs

import (
	"path/filepath"
	"strings"

	"github.com/wippyai/opcore/errors"
)

// Permissions holds the directory allow-lists for filesystem access. A path
// is allowed when it is one of the listed paths or lies beneath one.
type Permissions struct {
	Read  []string
	Write []string
}

// AllowAll permits every path.
func AllowAll() *Permissions {
	root := string(filepath.Separator)
	return &Permissions{Read: []string{root}, Write: []string{root}}
}

// CheckRead returns a PermissionDenied error unless path may be read.
func (p *Permissions) CheckRead(path string) error {
	return check("read", p.Read, path)
}

// CheckWrite returns a PermissionDenied error unless path may be written.
func (p *Permissions) CheckWrite(path string) error {
	return check("write", p.Write, path)
}

func check(access string, allowed []string, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	for _, dir := range allowed {
		base, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if within(base, abs) {
			return nil
		}
	}
	return errors.New(errors.PhaseOp, errors.KindOp).
		Class(errors.ClassPermissionDenied).
		Code("EACCES").
		Detail("requires %s access to %q", access, path).
		Build()
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
