package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

var (
	_ Extractor = CSVExtractor{}
	_ Extractor = JSONExtractor{}
)

// CSVExtractor turns a table into one paragraph per row. The first row names
// the columns; each later row becomes "col: value; col: value". Empty cells
// are left out.
type CSVExtractor struct{}

func (CSVExtractor) Extract(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("csv header: %w", err)
	}

	var rows []string
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("csv row %d: %w", line, err)
		}
		var cells []string
		for i, v := range rec {
			v = strings.TrimSpace(v)
			if v == "" || i >= len(header) {
				continue
			}
			cells = append(cells, strings.TrimSpace(header[i])+": "+v)
		}
		if len(cells) > 0 {
			rows = append(rows, strings.Join(cells, "; "))
		}
	}
	return strings.Join(rows, "\n\n"), nil
}

// maxJSONDepth bounds recursion on hostile input.
const maxJSONDepth = 64

// JSONExtractor flattens a JSON document into "path: value" lines with object
// keys in sorted order, so the same document always yields the same text.
// Elements of a top-level array become separate paragraphs.
type JSONExtractor struct{}

func (JSONExtractor) Extract(content []byte) (string, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}

	items, ok := doc.([]any)
	if !ok || isScalarList(items) {
		items = []any{doc}
	}
	var paras []string
	for _, item := range items {
		var lines []string
		flattenJSON("", item, 0, &lines)
		if len(lines) > 0 {
			paras = append(paras, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(paras, "\n\n"), nil
}

func flattenJSON(path string, v any, depth int, out *[]string) {
	label := path
	if label == "" {
		label = "value"
	}
	if depth > maxJSONDepth {
		*out = append(*out, label+": ...")
		return
	}
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			flattenJSON(child, val[k], depth+1, out)
		}
	case []any:
		if isScalarList(val) {
			parts := make([]string, 0, len(val))
			for _, item := range val {
				if item != nil {
					parts = append(parts, jsonScalar(item))
				}
			}
			if len(parts) > 0 {
				*out = append(*out, label+": "+strings.Join(parts, ", "))
			}
			return
		}
		for i, item := range val {
			flattenJSON(label+"["+strconv.Itoa(i)+"]", item, depth+1, out)
		}
	case nil:
	default:
		*out = append(*out, label+": "+jsonScalar(val))
	}
}

func isScalarList(list []any) bool {
	for _, v := range list {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

func jsonScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
