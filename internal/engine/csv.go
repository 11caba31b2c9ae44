package engine

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxFileSize is the maximum allowed input file size (100MB).
var MaxFileSize int64 = 100 * 1024 * 1024

// ParsedFile is the raw content of a delimited file: the header row and
// every non-empty data row with its original line number.
type ParsedFile struct {
	Header  []string
	Records []RawRecord
}

// ParseDelimited parses delimited file data. The first non-empty row is
// the header; subsequent rows become RawRecords. Rows consisting only of
// whitespace are skipped. Line numbers are 1-indexed file positions.
func ParseDelimited(data []byte, delimiter rune) (*ParsedFile, error) {
	if int64(len(data)) > MaxFileSize {
		return nil, &StructuralError{
			Reason: fmt.Sprintf("file exceeds %dMB limit", MaxFileSize/(1024*1024)),
		}
	}

	data = sanitizeUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	parsed := &ParsedFile{}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &StructuralError{Reason: fmt.Sprintf("parse file: %v", err)}
		}
		if isEmptyRow(row) {
			continue
		}
		if parsed.Header == nil {
			parsed.Header = cleanHeader(row)
			continue
		}
		line, _ := r.FieldPos(0)
		parsed.Records = append(parsed.Records, RawRecord{Line: line, Cells: row})
	}

	if parsed.Header == nil {
		return nil, &StructuralError{Reason: "empty file"}
	}

	return parsed, nil
}

// HeaderIndex maps column names (lowercase) to their position in a row.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a header row.
// Keys are lowercased for case-insensitive matching.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		idx[key] = i
	}
	return idx
}

func cleanHeader(row []string) []string {
	out := make([]string, len(row))
	for i, h := range row {
		out[i] = CleanCell(h)
	}
	return out
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode
// replacement character so downstream string handling stays well formed.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
