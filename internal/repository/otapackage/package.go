package otapackage

import (
	"archive/zip"
	"crypto"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goupdate "github.com/doitdistributed/go-update"
)

const (
	// UpdaterScriptEntry is the archive path of the embedded install script.
	UpdaterScriptEntry = "META-INF/com/google/android/updater-script"

	// DefaultFileMode is applied to committed packages.
	DefaultFileMode os.FileMode = 0o644

	// defaultEntryCapacity is the initial capacity for entry lists of new packages.
	defaultEntryCapacity = 16
)

var (
	// ErrEntryNotFound is returned by ReadEntry for names the package does not hold.
	ErrEntryNotFound = errors.New("entry not found")

	errEmptyEntryName = errors.New("entry name must not be empty")
	errNotRegularFile = errors.New("not a regular file")
	errReservedEntry  = errors.New("entry is managed through Script")
)

// entry is one archive member. Members of the opened archive are copied
// as stored; staged members carry their contents.
type entry struct {
	// file is the member of the source archive, nil for staged entries.
	file *zip.File
	// header describes a staged entry.
	header zip.FileHeader
	// data holds the contents of a staged entry.
	data []byte
}

func (e *entry) fileHeader() *zip.FileHeader {
	if e.file != nil {
		return &e.file.FileHeader
	}

	return &e.header
}

// Package is a full OTA zip opened for rewriting.
// Only the updater-script and staged files are held in memory; every other
// member is copied from the source archive without recompression.
// It is not safe for concurrent use.
type Package struct {
	// path is the file the package was opened from.
	path string
	// reader is the open source archive, nil for packages built with New.
	reader *zip.ReadCloser
	// entries keeps archive order.
	entries []*entry
	// index maps entry names to positions in entries.
	index map[string]int
	// script is the updater-script, rewritten on serialization when modified.
	script *UpdaterScript
	// staged lists entry names written through Write, in call order.
	staged []string
}

// New returns an empty package that has not been read from disk.
func New() *Package {
	return &Package{
		entries: make([]*entry, 0, defaultEntryCapacity),
		index:   make(map[string]int, defaultEntryCapacity),
		script:  newUpdaterScript(nil),
	}
}

// Open opens the OTA zip at path. The caller must Close the package.
func Open(path string) (*Package, error) {
	path = filepath.Clean(path)

	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open package %s: %w", path, err)
	}

	pkg := New()
	pkg.path = path
	pkg.reader = reader

	for _, file := range reader.File {
		if file.Name == UpdaterScriptEntry {
			var data []byte

			data, err = readZipFile(file)
			if err != nil {
				_ = reader.Close()
				return nil, fmt.Errorf("read %s from %s: %w", file.Name, path, err)
			}

			pkg.script = newUpdaterScript(data)
		}

		pkg.put(&entry{file: file})
	}

	return pkg, nil
}

// Close releases the source archive.
func (p *Package) Close() error {
	if p.reader == nil {
		return nil
	}

	err := p.reader.Close()
	p.reader = nil

	return err
}

// Path returns the file the package was opened from.
func (p *Package) Path() string {
	return p.path
}

// Script returns the package's updater-script.
func (p *Package) Script() *UpdaterScript {
	return p.script
}

// Write copies the host file at sourcePath into the archive as entryName.
// An existing entry with the same name is replaced in place.
// The updater-script cannot be written this way; use Script.
func (p *Package) Write(sourcePath, entryName string) error {
	entryName = strings.TrimPrefix(filepath.ToSlash(entryName), "/")

	switch entryName {
	case "":
		return errEmptyEntryName
	case UpdaterScriptEntry:
		return fmt.Errorf("%s: %w", entryName, errReservedEntry)
	}

	file, err := os.Open(filepath.Clean(sourcePath))
	if err != nil {
		return fmt.Errorf("open %s: %w", sourcePath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", sourcePath, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", sourcePath, errNotRegularFile)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", sourcePath, err)
	}

	header := zip.FileHeader{
		Name:     entryName,
		Method:   zip.Deflate,
		Modified: info.ModTime().UTC(),
	}
	header.SetMode(info.Mode().Perm())

	p.put(&entry{header: header, data: data})
	p.staged = append(p.staged, entryName)

	return nil
}

// Staged returns the entry names written through Write, in call order.
func (p *Package) Staged() []string {
	return append([]string(nil), p.staged...)
}

// Entries returns the archive entry names in archive order.
// A script created by AppendExtra on a package without one is listed last.
func (p *Package) Entries() []string {
	names := make([]string, 0, len(p.entries)+1)
	for _, e := range p.entries {
		names = append(names, e.fileHeader().Name)
	}

	if _, ok := p.index[UpdaterScriptEntry]; !ok && p.script.Modified() {
		names = append(names, UpdaterScriptEntry)
	}

	return names
}

// ReadEntry returns the current contents of the named entry.
func (p *Package) ReadEntry(name string) ([]byte, error) {
	if name == UpdaterScriptEntry {
		if _, ok := p.index[name]; ok || p.script.Modified() {
			return p.script.Bytes(), nil
		}
	}

	position, ok := p.index[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrEntryNotFound)
	}

	e := p.entries[position]
	if e.file == nil {
		return append([]byte(nil), e.data...), nil
	}

	data, err := readZipFile(e.file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return data, nil
}

// WriteArchive streams the package to w as a zip archive.
// Untouched members are copied raw; the updater-script is rewritten only if modified.
func (p *Package) WriteArchive(w io.Writer) error {
	writer := zip.NewWriter(w)

	for _, e := range p.entries {
		var err error

		switch {
		case e.fileHeader().Name == UpdaterScriptEntry && p.script.Modified():
			err = writeEntry(writer, copyHeader(e.fileHeader()), p.script.Bytes())
		case e.file != nil:
			if err = writer.Copy(e.file); err != nil {
				err = fmt.Errorf("copy %s: %w", e.file.Name, err)
			}
		default:
			err = writeEntry(writer, e.header, e.data)
		}

		if err != nil {
			return err
		}
	}

	if _, ok := p.index[UpdaterScriptEntry]; !ok && p.script.Modified() {
		header := zip.FileHeader{
			Name:     UpdaterScriptEntry,
			Method:   zip.Deflate,
			Modified: time.Now().UTC(),
		}
		header.SetMode(DefaultFileMode)

		if err := writeEntry(writer, header, p.script.Bytes()); err != nil {
			return err
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}

	return nil
}

// Commit writes the package to target, replacing it atomically.
// The archive is first streamed to a staging file next to target; the bytes
// handed to go-update are verified against their SHA-512 checksum before the swap.
// On failure target is left as it was, and a target this call created is removed.
func (p *Package) Commit(target string) (err error) {
	target = filepath.Clean(target)

	staging, checksum, err := p.stage(target)
	if err != nil {
		return err
	}

	defer func() {
		_ = staging.Close()
		_ = os.Remove(staging.Name())
	}()

	// go-update renames the existing target aside, so one has to exist.
	created, err := ensureTarget(target)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil && created {
			_ = os.Remove(target)
		}
	}()

	if _, err = staging.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", staging.Name(), err)
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: DefaultFileMode,
		Checksum:   checksum,
		Hash:       crypto.SHA512,
	}

	if err = goupdate.Apply(staging, options); err != nil {
		return fmt.Errorf("replace %s: %w", target, err)
	}

	return nil
}

// stage writes the archive to a hidden file in the directory of target and
// returns it with the SHA-512 of its contents.
func (p *Package) stage(target string) (*os.File, []byte, error) {
	dir, base := filepath.Split(target)
	if dir == "" {
		dir = "."
	}

	staging, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return nil, nil, fmt.Errorf("create staging file for %s: %w", target, err)
	}

	hash := sha512.New()

	if err = p.WriteArchive(io.MultiWriter(staging, hash)); err != nil {
		_ = staging.Close()
		_ = os.Remove(staging.Name())

		return nil, nil, err
	}

	return staging, hash.Sum(nil), nil
}

// ensureTarget creates an empty target if none exists and reports whether it did.
func ensureTarget(target string) (bool, error) {
	_, err := os.Stat(target)
	if err == nil {
		return false, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", target, err)
	}

	placeholder, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, DefaultFileMode)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", target, err)
	}

	if err = placeholder.Close(); err != nil {
		_ = os.Remove(target)
		return false, fmt.Errorf("create %s: %w", target, err)
	}

	return true, nil
}

// put stores e under its name, replacing an existing entry of that name.
func (p *Package) put(e *entry) {
	name := e.fileHeader().Name

	if position, ok := p.index[name]; ok {
		p.entries[position] = e
		return
	}

	p.index[name] = len(p.entries)
	p.entries = append(p.entries, e)
}

// readZipFile returns the decompressed contents of file.
func readZipFile(file *zip.File) ([]byte, error) {
	if file.FileInfo().IsDir() {
		return nil, nil
	}

	reader, err := file.Open()
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = reader.Close()
	}()

	return io.ReadAll(reader)
}

// copyHeader keeps the metadata worth preserving and drops sizes, checksums
// and extra fields, which the writer recomputes.
func copyHeader(source *zip.FileHeader) zip.FileHeader {
	header := zip.FileHeader{
		Name:     source.Name,
		Comment:  source.Comment,
		Method:   source.Method,
		Modified: source.Modified,
	}
	header.SetMode(source.Mode())

	if strings.HasSuffix(header.Name, "/") {
		header.Method = zip.Store
	}

	return header
}

// writeEntry adds one member to writer.
//
//nolint:gocritic // The header is copied on purpose; CreateHeader mutates it.
func writeEntry(writer *zip.Writer, header zip.FileHeader, data []byte) error {
	w, err := writer.CreateHeader(&header)
	if err != nil {
		return fmt.Errorf("add %s: %w", header.Name, err)
	}

	if strings.HasSuffix(header.Name, "/") {
		return nil
	}

	if _, err = w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", header.Name, err)
	}

	return nil
}
