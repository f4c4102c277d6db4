package onnx

import (
	"io"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// externalDataInfo locates the data of a tensor in an external file.
type externalDataInfo struct {
	location       string
	offset, length int64
}

// parseExternalData reads the location, offset and length entries of a tensor stored externally.
func parseExternalData(proto *TensorProto) (*externalDataInfo, error) {
	info := &externalDataInfo{}
	for _, entry := range proto.ExternalData {
		var err error
		switch entry.Key {
		case "location":
			info.location = entry.Value
		case "offset":
			info.offset, err = strconv.ParseInt(entry.Value, 10, 64)
		case "length":
			info.length, err = strconv.ParseInt(entry.Value, 10, 64)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %q: invalid external data %s=%q", proto.Name, entry.Key, entry.Value)
		}
	}
	if info.location == "" {
		return nil, errors.Errorf("tensor %q stores its data externally, but no location is given", proto.Name)
	}
	if filepath.IsAbs(info.location) {
		return nil, errors.Errorf("tensor %q: external data location %q must be relative to the model file",
			proto.Name, info.location)
	}
	return info, nil
}

// ExternalDataReader memory-maps the external data files of a model.
// Mappings are cached by location, since multiple tensors often share the same file.
type ExternalDataReader struct {
	baseDir  string
	mappings map[string]*mmap.ReaderAt
	mu       sync.Mutex
}

// NewExternalDataReader creates a reader for the given model directory.
func NewExternalDataReader(baseDir string) *ExternalDataReader {
	return &ExternalDataReader{
		baseDir:  baseDir,
		mappings: make(map[string]*mmap.ReaderAt),
	}
}

func (r *ExternalDataReader) mapping(location string) (*mmap.ReaderAt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reader, ok := r.mappings[location]; ok {
		return reader, nil
	}
	externalPath := filepath.Join(r.baseDir, location)
	reader, err := mmap.Open(externalPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap external data file %q", externalPath)
	}
	r.mappings[location] = reader
	return reader, nil
}

// Read returns a copy of the size bytes described by info.
func (r *ExternalDataReader) Read(info *externalDataInfo, size int) ([]byte, error) {
	if info.length > 0 && info.length != int64(size) {
		return nil, errors.Errorf("external data length %d doesn't match the tensor size of %d bytes", info.length, size)
	}
	reader, err := r.mapping(info.location)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, size)
	n, err := reader.ReadAt(dst, info.offset)
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "failed to read %d bytes at offset %d from external data file %q",
			size, info.offset, info.location)
	}
	if n != size {
		return nil, errors.Errorf("read %d bytes but expected %d from external data file %q", n, size, info.location)
	}
	return dst, nil
}

// Close unmaps all files. The reader should not be used afterwards.
func (r *ExternalDataReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for location, reader := range r.mappings {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close mmap for %q", location)
		}
	}
	r.mappings = nil
	return firstErr
}
