package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/locdata/locharvest/pkg/decompose"
	"github.com/locdata/locharvest/pkg/flatten"
)

// ErrNoSeedColumn is returned by LoadSeeds when the CSV has neither an
// item_id nor a resource_id column.
var ErrNoSeedColumn = errors.New("csv has no item_id or resource_id column")

// WriteCSV writes records to path with one column per distinct key, in order
// of first appearance. Missing and null cells are empty; lists and mappings
// are written as JSON.
func WriteCSV(path string, records []*flatten.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := writeCSV(f, records); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func writeCSV(out io.Writer, records []*flatten.Record) error {
	w := csv.NewWriter(out)
	cols := flatten.Columns(records)
	if err := w.Write(cols); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for _, rec := range records {
		for i, c := range cols {
			row[i] = rec.Text(c)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteErrors writes v as indented JSON.
func WriteErrors(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// LoadSeeds reads seeds from a CSV file. The item_id column is used when
// present, otherwise resource_id. Blank cells are skipped.
func LoadSeeds(path string) ([]decompose.Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seeds, err := readSeeds(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return seeds, nil
}

func readSeeds(in io.Reader) ([]decompose.Seed, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, ErrNoSeedColumn
	}
	if err != nil {
		return nil, err
	}

	col, isItem := -1, false
	for _, name := range []string{"item_id", "resource_id"} {
		for i, h := range header {
			if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == name {
				col, isItem = i, name == "item_id"
				break
			}
		}
		if col >= 0 {
			break
		}
	}
	if col < 0 {
		return nil, ErrNoSeedColumn
	}

	var seeds []decompose.Seed
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if col >= len(rec) {
			continue
		}
		v := strings.TrimSpace(rec[col])
		if v == "" {
			continue
		}
		if isItem {
			seeds = append(seeds, decompose.Seed{ItemID: v})
		} else {
			seeds = append(seeds, decompose.Seed{ResourceID: v})
		}
	}
	return seeds, nil
}
