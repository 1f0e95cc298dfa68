package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/jo-hoe/reelcheck/internal/common"
)

// ErrNotFound is returned by Documents.Read when no document exists at a path.
var ErrNotFound = errors.New("document not found")

// Documents is durable storage for whole documents addressed by slash-separated
// relative paths such as "jobs/<id>/job.json".
type Documents interface {
	// Read returns the document stored at p, or ErrNotFound.
	Read(p string) ([]byte, error)
	// Write replaces the document stored at p.
	Write(p string, data []byte) error
	// List returns the names of the immediate children of dir, in no particular order.
	List(dir string) ([]string, error)
	Close() error
}

// ReadJSON decodes the document at p into v. It reports false (and no error)
// when the document does not exist.
func ReadJSON(d Documents, p string, v any) (bool, error) {
	data, err := d.Read(p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", p, err)
	}
	return true, nil
}

// WriteJSON encodes v as indented JSON, stores it at p and returns the stored document.
func WriteJSON(d Documents, p string, v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p, err)
	}
	if err := d.Write(p, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Durable layout. One directory per job plus one shared index document.

func IndexPath() string { return common.IndexFileName }

func JobsDir() string { return common.JobsDirName }

func JobPath(id string) string { return path.Join(common.JobsDirName, id, common.JobFileName) }

func TranscriptPath(id string) string {
	return path.Join(common.JobsDirName, id, common.TranscriptFileName)
}

func ReportPath(id string) string { return path.Join(common.JobsDirName, id, common.ReportFileName) }

func RawResponsePath(id string) string {
	return path.Join(common.JobsDirName, id, common.RawResponseFileName)
}
