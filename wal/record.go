package wal

import (
	"fmt"
	"strconv"
	"strings"

	"tsstore/datapoint"
)

// ErrInvalidRecord indicates a WAL line that could not be parsed into an
// Observation. Callers of Replay treat this as a per-line diagnostic, never
// as a fatal error.
var ErrInvalidRecord = fmt.Errorf("wal: invalid record")

const (
	fieldSep = ','
	tagSep   = ';'
	kvSep    = '='
	escChar  = '\\'
)

// EncodeRecord renders an Observation as a single WAL line (no trailing
// newline; the caller appends one). Fields are comma-separated in fixed
// order: timestamp, metric, value, tags. Only metric, tag keys and tag
// values are escaped; the timestamp and value fields can never contain a
// reserved character so they are written verbatim.
func EncodeRecord(o datapoint.Observation) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(o.Timestamp, 10))
	b.WriteByte(fieldSep)
	b.WriteString(escapeField(o.Metric))
	b.WriteByte(fieldSep)
	b.WriteString(strconv.FormatFloat(o.Value, 'g', -1, 64))
	b.WriteByte(fieldSep)

	first := true
	for k, v := range o.Tags {
		if !first {
			b.WriteByte(tagSep)
		}
		first = false
		b.WriteString(escapeField(k))
		b.WriteByte(kvSep)
		b.WriteString(escapeField(v))
	}
	return b.String()
}

// DecodeRecord parses a single WAL line back into an Observation. It
// returns ErrInvalidRecord (possibly wrapped with detail) for any line that
// does not conform to the record grammar; callers performing replay are
// expected to log and skip such lines rather than abort.
func DecodeRecord(line string) (datapoint.Observation, error) {
	fields, ok := splitNUnescaped(line, fieldSep, 3)
	if !ok {
		return datapoint.Observation{}, ErrInvalidRecord
	}

	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return datapoint.Observation{}, fmt.Errorf("%w: bad timestamp: %v", ErrInvalidRecord, err)
	}

	metric := unescapeField(fields[1])
	if metric == "" {
		return datapoint.Observation{}, fmt.Errorf("%w: empty metric", ErrInvalidRecord)
	}

	value, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return datapoint.Observation{}, fmt.Errorf("%w: bad value: %v", ErrInvalidRecord, err)
	}

	tags := parseTags(fields[3])

	return datapoint.Observation{
		Timestamp: ts,
		Metric:    metric,
		Value:     value,
		Tags:      tags,
	}, nil
}

// parseTags splits a tags segment on unescaped semicolons, then each pair
// on the first unescaped '='. Pairs without an '=' are silently dropped.
func parseTags(s string) map[string]string {
	if s == "" {
		return nil
	}

	var tags map[string]string
	for _, pair := range splitAllUnescaped(s, tagSep) {
		if pair == "" {
			continue
		}
		k, v, ok := splitFirstUnescaped(pair, kvSep)
		if !ok {
			continue
		}
		if tags == nil {
			tags = make(map[string]string)
		}
		tags[unescapeField(k)] = unescapeField(v)
	}
	return tags
}

// escapeField escapes backslash, comma, semicolon and equals so the result
// can be embedded in the WAL's comma/semicolon-delimited grammar and
// recovered byte-for-byte by unescapeField.
func escapeField(s string) string {
	if !strings.ContainsAny(s, ",;=\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case fieldSep, tagSep, kvSep, escChar:
			b.WriteByte(escChar)
		}
		b.WriteByte(c)
	}
	return b.String()
}

// unescapeField is the inverse of escapeField. An escape sequence for an
// unrecognized character is treated as that character literally.
func unescapeField(s string) string {
	if !strings.ContainsRune(s, escChar) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == escChar && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// splitFirstUnescaped splits s at the first unescaped occurrence of sep.
// A small hand-written state machine, deliberately not a regex.
func splitFirstUnescaped(s string, sep byte) (before, after string, ok bool) {
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == escChar {
			escaped = true
			continue
		}
		if c == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// splitAllUnescaped splits s at every unescaped occurrence of sep.
func splitAllUnescaped(s string, sep byte) []string {
	var parts []string
	rest := s
	for {
		before, after, ok := splitFirstUnescaped(rest, sep)
		if !ok {
			parts = append(parts, rest)
			return parts
		}
		parts = append(parts, before)
		rest = after
	}
}

// splitNUnescaped splits s into exactly n+1 parts at the first n unescaped
// occurrences of sep, returning ok=false if fewer than n are found.
func splitNUnescaped(s string, sep byte, n int) ([]string, bool) {
	parts := make([]string, 0, n+1)
	rest := s
	for i := 0; i < n; i++ {
		before, after, ok := splitFirstUnescaped(rest, sep)
		if !ok {
			return nil, false
		}
		parts = append(parts, before)
		rest = after
	}
	parts = append(parts, rest)
	return parts, true
}
