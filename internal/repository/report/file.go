package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// DefaultFilePermissions is the permission of written report files.
const DefaultFilePermissions = 0o644

// Record describes one finalization run.
type Record struct {
	// Package is the OTA zip that was read.
	Package string
	// Output is where the finalized zip was committed.
	Output string
	// OutDir is the build output directory the utility script came from.
	OutDir string
	// Staged lists archive entries written by the hook.
	Staged []string
	// Statements lists updater-script statements appended by the hook.
	Statements []string
	// FinalizedAt is when the package was committed.
	FinalizedAt time.Time
}

// Repository defines persistence operations for finalization records.
type Repository interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, record *Record) error
	Prepare(ctx context.Context, record *Record) (*Pending, error)
}

// Pending is an encoded record written next to its destination but not yet
// moved into place. Exactly one of Commit or Discard should be called.
type Pending struct {
	// staging is the temporary file holding the encoded record.
	staging string
	// path is the destination of the report.
	path string
}

// FileRepository persists a Record as a JSON object on disk.
// The JSON is produced and consumed through structpb and protojson.
type FileRepository struct {
	// path is the filesystem location of the report.
	path string
	// mu serializes access to the report file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the report file does not exist yet.
	ErrNotFound = errors.New("report not found")

	errRecordIsNotSet = errors.New("record is not set")
)

const (
	fieldPackage     = "package"
	fieldOutput      = "output"
	fieldOutDir      = "out_dir"
	fieldStaged      = "staged"
	fieldStatements  = "statements"
	fieldFinalizedAt = "finalized_at"
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the record from disk.
func (r *FileRepository) Load(_ context.Context) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read report file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("decode report file: %w", err)
	}

	return fromStruct(&document)
}

// Save writes the record to disk.
func (r *FileRepository) Save(ctx context.Context, record *Record) error {
	pending, err := r.Prepare(ctx, record)
	if err != nil {
		return err
	}

	return pending.Commit()
}

// Prepare encodes the record and writes it to a staging file in the report's
// directory, so that a later Commit only has to rename it.
func (r *FileRepository) Prepare(_ context.Context, record *Record) (*Pending, error) {
	if record == nil {
		return nil, errRecordIsNotSet
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	document, err := toStruct(record)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
		Indent:    "  ",
	}

	data, err := marshalOptions.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	staging, err := os.CreateTemp(filepath.Dir(r.path), "."+filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("write report file: %w", err)
	}

	pending := &Pending{staging: staging.Name(), path: r.path}

	_, err = staging.Write(data)
	if err == nil {
		err = staging.Chmod(DefaultFilePermissions)
	}

	if closeErr := staging.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		pending.Discard()
		return nil, fmt.Errorf("write report file: %w", err)
	}

	return pending, nil
}

// Path returns the destination of the report.
func (p *Pending) Path() string {
	return p.path
}

// Commit moves the staged report into place.
func (p *Pending) Commit() error {
	if err := os.Rename(p.staging, p.path); err != nil {
		p.Discard()
		return fmt.Errorf("write report file: %w", err)
	}

	return nil
}

// Discard removes the staged report.
func (p *Pending) Discard() {
	_ = os.Remove(p.staging)
}

// toStruct converts a Record into a protobuf Struct.
func toStruct(record *Record) (*structpb.Struct, error) {
	document, err := structpb.NewStruct(map[string]any{
		fieldPackage:    record.Package,
		fieldOutput:     record.Output,
		fieldOutDir:     record.OutDir,
		fieldStaged:     toList(record.Staged),
		fieldStatements: toList(record.Statements),
	})
	if err != nil {
		return nil, err
	}

	finalizedAt, err := timestampValue(record.FinalizedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fieldFinalizedAt, err)
	}

	document.Fields[fieldFinalizedAt] = finalizedAt

	return document, nil
}

// timestampValue renders t in the JSON form of google.protobuf.Timestamp.
func timestampValue(t time.Time) (*structpb.Value, error) {
	raw, err := protojson.Marshal(timestamppb.New(t))
	if err != nil {
		return nil, err
	}

	var value structpb.Value
	if err = protojson.Unmarshal(raw, &value); err != nil {
		return nil, err
	}

	return &value, nil
}

// timestampFromValue parses the JSON form of google.protobuf.Timestamp.
func timestampFromValue(value *structpb.Value) (time.Time, error) {
	raw, err := protojson.Marshal(value)
	if err != nil {
		return time.Time{}, err
	}

	var timestamp timestamppb.Timestamp
	if err = protojson.Unmarshal(raw, &timestamp); err != nil {
		return time.Time{}, err
	}

	return timestamp.AsTime(), nil
}

// fromStruct converts a protobuf Struct back into a Record.
func fromStruct(document *structpb.Struct) (*Record, error) {
	fields := document.GetFields()

	record := &Record{
		Package:    fields[fieldPackage].GetStringValue(),
		Output:     fields[fieldOutput].GetStringValue(),
		OutDir:     fields[fieldOutDir].GetStringValue(),
		Staged:     fromList(fields[fieldStaged].GetListValue()),
		Statements: fromList(fields[fieldStatements].GetListValue()),
	}

	if value, ok := fields[fieldFinalizedAt]; ok {
		finalizedAt, err := timestampFromValue(value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldFinalizedAt, err)
		}

		record.FinalizedAt = finalizedAt
	}

	return record, nil
}

func toList(values []string) []any {
	list := make([]any, 0, len(values))
	for _, value := range values {
		list = append(list, value)
	}

	return list
}

func fromList(list *structpb.ListValue) []string {
	values := make([]string, 0, len(list.GetValues()))
	for _, value := range list.GetValues() {
		values = append(values, value.GetStringValue())
	}

	return values
}
