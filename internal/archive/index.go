package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// bump when Record changes shape
const indexSchemaVersion uint16 = 1

type indexPayload struct {
	Schema  uint16
	Records []Record
}

// LoadIndex reads the index of the archive at dir without opening it for writing.
// A missing index yields no records.
func LoadIndex(dir string) ([]Record, error) {
	return readIndex(filepath.Join(dir, IndexFile))
}

func readIndex(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open archive index: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var payload indexPayload
	if err := msgpack.NewDecoder(f).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%s: failed to decode archive index: %w", path, err)
	}
	if payload.Schema != indexSchemaVersion {
		return nil, fmt.Errorf("%s: %w %d", path, errSchema, payload.Schema)
	}
	return payload.Records, nil
}

func writeIndex(path string, records []Record) error {
	data, err := msgpack.Marshal(&indexPayload{Schema: indexSchemaVersion, Records: records})
	if err != nil {
		return fmt.Errorf("failed to encode archive index: %w", err)
	}
	return writeAtomic(path, data)
}
