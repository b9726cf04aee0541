// Package naming decides where a new screenshot is written.
//
// The allocator only picks a name. It never creates files, so a second
// writer racing for the same name between Allocate and the actual write
// is possible and accepted.
package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Encoding is the codec used to write an image.
type Encoding string

const (
	EncodingPNG  Encoding = "png"
	EncodingJPEG Encoding = "jpeg"
)

// Format pairs the codec with the extension the user asked for, so
// "jpg" and "jpeg" both encode JPEG but keep their own suffix.
type Format struct {
	Encoding  Encoding
	Extension string
}

var (
	PNG  = Format{Encoding: EncodingPNG, Extension: "png"}
	JPG  = Format{Encoding: EncodingJPEG, Extension: "jpg"}
	JPEG = Format{Encoding: EncodingJPEG, Extension: "jpeg"}
)

// ParseFormat maps a settings value to a Format. Unrecognised values
// yield PNG and ok=false.
func ParseFormat(name string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "png":
		return PNG, true
	case "jpg":
		return JPG, true
	case "jpeg":
		return JPEG, true
	default:
		return PNG, false
	}
}

// TimestampLayout is the second-resolution stamp used for timestamped names.
const TimestampLayout = "2006-01-02_15-04-05"

// Policy is the naming snapshot taken when a save starts.
type Policy struct {
	Prefix      string
	Format      Format
	Timestamped bool
}

// ExistsFunc reports whether path is already taken.
type ExistsFunc func(path string) bool

// FileExists is the default existence oracle backed by os.Stat.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// Allocator produces collision-free file names.
type Allocator struct {
	Exists ExistsFunc
	Now    func() time.Time
}

// NewAllocator returns an allocator using the real filesystem and clock.
func NewAllocator() *Allocator {
	return &Allocator{Exists: FileExists, Now: time.Now}
}

// Allocate returns a bare file name (no directory) for policy inside dir.
//
// Timestamped names are returned without consulting the filesystem: two
// captures in the same second get the same name. Otherwise the first
// free "{prefix}_{n}.{ext}" with n counting up from 1 wins.
func (a *Allocator) Allocate(policy Policy, dir string) string {
	ext := policy.Format.Extension
	if ext == "" {
		ext = PNG.Extension
	}

	if policy.Timestamped {
		now := time.Now
		if a.Now != nil {
			now = a.Now
		}
		return fmt.Sprintf("%s_%s.%s", policy.Prefix, now().Format(TimestampLayout), ext)
	}

	exists := a.Exists
	if exists == nil {
		exists = FileExists
	}
	for n := 1; ; n++ {
		name := fmt.Sprintf("%s_%d.%s", policy.Prefix, n, ext)
		if !exists(filepath.Join(dir, name)) {
			return name
		}
	}
}
