package pipeline

import (
	"path"
	"path/filepath"
	"strings"
)

// File is the unit flowing through a pipeline.
type File struct {
	// Base is the directory Path is relative to.
	Base string
	// Path is slash separated and relative to Base.
	Path string
	// Source is the file the contents were read from; empty for generated files.
	Source    string
	Contents  []byte
	SourceMap []byte
}

// Abs returns the file's location on disk.
func (f *File) Abs() string {
	return filepath.Join(f.Base, filepath.FromSlash(f.Path))
}

// Ext returns the lower-cased extension including the dot.
func (f *File) Ext() string {
	return strings.ToLower(path.Ext(f.Path))
}

// Clone returns a deep copy.
func (f *File) Clone() *File {
	c := *f
	c.Contents = append([]byte(nil), f.Contents...)
	if f.SourceMap != nil {
		c.SourceMap = append([]byte(nil), f.SourceMap...)
	}
	return &c
}
