package imessage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const csvGlobPattern = "Messages - *.csv"

// utf8BOM is the byte-order mark iMazing's CSV export writer prepends;
// encoding/csv does not strip it, so the header's first column name
// would otherwise come back as "﻿Chat Session".
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// loadCSVMessages parses every "Messages - *.csv" file in inputDir into
// a lookup keyed by (message date, attachment filename), the same
// composite key the export uses to tie a text message to its
// attachment. Rows missing either field are skipped, matching the
// original export's convention of using a blank Attachment column for
// text-only messages.
func loadCSVMessages(inputDir string) (map[csvKey]csvInfo, int, error) {
	matches, err := filepath.Glob(filepath.Join(inputDir, csvGlobPattern))
	if err != nil {
		return nil, 0, fmt.Errorf("imessage: glob csv: %w", err)
	}
	cache := map[csvKey]csvInfo{}
	loaded := 0
	for _, path := range matches {
		n, err := parseCSVFile(path, cache)
		if err != nil {
			return nil, 0, err
		}
		loaded += n
	}
	return cache, loaded, nil
}

func parseCSVFile(path string, cache map[csvKey]csvInfo) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("imessage: read %s: %w", path, err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("imessage: read header %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	count := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("imessage: read row %s: %w", path, err)
		}
		messageDate := field(row, "Message Date")
		attachment := field(row, "Attachment")
		if messageDate == "" || attachment == "" {
			continue
		}
		cache[csvKey{MessageDate: messageDate, Attachment: attachment}] = csvInfo{
			ChatSession:    field(row, "Chat Session"),
			Service:        field(row, "Service"),
			Type:           field(row, "Type"),
			SenderID:       field(row, "Sender ID"),
			SenderName:     field(row, "Sender Name"),
			Status:         field(row, "Status"),
			Text:           field(row, "Text"),
			AttachmentType: field(row, "Attachment type"),
		}
		count++
	}
	return count, nil
}

// minuteKeyLen is the prefix length of "YYYY-MM-DD HH:MM", the
// precision lookupCSV falls back to when a message's seconds don't
// line up exactly with the filename-encoded timestamp.
const minuteKeyLen = 16

// lookupCSV finds the CSV row for a (timestamp, attachment filename)
// pair, first by exact key, then by same-filename plus minute-precision
// timestamp match. The fallback exists because iMazing sometimes
// rounds a message's CSV timestamp differently than the filename it
// generates for the same attachment.
func lookupCSV(cache map[csvKey]csvInfo, timestampStr, filename string) (csvInfo, bool) {
	if info, ok := cache[csvKey{MessageDate: timestampStr, Attachment: filename}]; ok {
		return info, true
	}
	if len(timestampStr) < minuteKeyLen {
		return csvInfo{}, false
	}
	prefix := timestampStr[:minuteKeyLen]
	for k, v := range cache {
		if k.Attachment != filename {
			continue
		}
		if len(k.MessageDate) >= minuteKeyLen && k.MessageDate[:minuteKeyLen] == prefix {
			return v, true
		}
	}
	return csvInfo{}, false
}
