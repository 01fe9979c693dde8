// Package jsonl provides a memory-mapped reader over append-only JSONL
// transcript files: line counting, paginated forward reads, and reverse
// reads. Lines are treated as opaque byte content; callers parse JSON
// records themselves.
package jsonl

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// Line is a single line read from a JSONL file.
type Line struct {
	LineNumber uint32
	ByteOffset int64
	Content    string
}

// Page is the result of a paginated read.
type Page struct {
	Lines      []Line
	TotalLines uint32
	HasMore    bool
	NextOffset uint32
}

var ErrEmptyFile = errors.New("jsonl: file is empty")

// mapFile memory-maps path read-only and returns its bytes, a closer, and
// whether the file was empty (in which case data/closer are both nil).
func mapFile(path string) (data []byte, closer func() error, empty bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, false, err
	}
	if info.Size() == 0 {
		return nil, nil, true, nil
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, false, err
	}
	return mapped, func() error { return unix.Munmap(mapped) }, false, nil
}

// countLines returns the number of lines in data: the number of '\n' bytes,
// plus one if the file does not end in a trailing newline. bytes.Count is
// the assembly-vectorized stdlib equivalent of a dedicated SIMD bytecount
// routine (see DESIGN.md).
func countLines(data []byte) uint32 {
	n := uint32(bytes.Count(data, []byte{'\n'}))
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// CountLines returns the number of lines in the file at path.
func CountLines(path string) (uint32, error) {
	data, closer, empty, err := mapFile(path)
	if err != nil {
		return 0, err
	}
	if empty {
		return 0, nil
	}
	defer closer()
	return countLines(data), nil
}

// ReadPage reads lines with ordinal in [offset, offset+limit). Blank lines
// are skipped in the output but still counted toward line-number
// assignment.
func ReadPage(path string, offset, limit uint32) (Page, error) {
	data, closer, empty, err := mapFile(path)
	if err != nil {
		return Page{}, err
	}
	if empty {
		return Page{TotalLines: 0, HasMore: false, NextOffset: 0}, nil
	}
	defer closer()

	total := countLines(data)
	if offset >= total {
		return Page{TotalLines: total, HasMore: false, NextOffset: offset}, nil
	}

	var lines []Line
	var currentLine uint32
	var byteOffset int64
	lineStart := 0
	end := offset + limit

	for i := 0; i < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		if currentLine >= offset && currentLine < end {
			appendIfNonBlank(&lines, currentLine, byteOffset, data[lineStart:i])
		}
		currentLine++
		byteOffset = int64(i + 1)
		lineStart = i + 1
		if currentLine >= end {
			break
		}
	}

	if lineStart < len(data) && currentLine >= offset && currentLine < end {
		appendIfNonBlank(&lines, currentLine, byteOffset, data[lineStart:])
	}

	nextOffset := offset + limit
	return Page{
		Lines:      lines,
		TotalLines: total,
		HasMore:    nextOffset < total,
		NextOffset: nextOffset,
	}, nil
}

// ReadReverse reads up to limit lines starting from the end of the file.
func ReadReverse(path string, limit uint32) ([]Line, error) {
	data, closer, empty, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}
	defer closer()

	type span struct {
		lineNumber uint32
		start      int
	}
	starts := []span{{0, 0}}
	var lineNum uint32
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' && i+1 < len(data) {
			lineNum++
			starts = append(starts, span{lineNum, i + 1})
		}
	}

	var lines []Line
	total := len(starts)
	for idx := total - 1; idx >= 0 && uint32(len(lines)) < limit; idx-- {
		s := starts[idx]
		var end int
		if idx+1 < total {
			end = starts[idx+1].start - 1
		} else {
			end = len(data)
			if data[end-1] == '\n' {
				end--
			}
		}
		appendIfNonBlank(&lines, s.lineNumber, int64(s.start), data[s.start:end])
	}
	return lines, nil
}

func appendIfNonBlank(lines *[]Line, lineNumber uint32, byteOffset int64, content []byte) {
	if len(bytes.TrimSpace(content)) == 0 {
		return
	}
	*lines = append(*lines, Line{
		LineNumber: lineNumber,
		ByteOffset: byteOffset,
		Content:    lossyUTF8(content),
	})
}

// lossyUTF8 mirrors Rust's String::from_utf8_lossy: invalid byte sequences
// become the Unicode replacement character rather than an error, since the
// indexer treats lines as opaque JSON envelopes and must not fail the whole
// pass on one malformed record.
func lossyUTF8(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	var b strings.Builder
	b.Grow(len(content))
	for len(content) > 0 {
		r, size := utf8.DecodeRune(content)
		b.WriteRune(r)
		content = content[size:]
	}
	return b.String()
}
