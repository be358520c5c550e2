// Package attach turns user attachments and assistant knowledge files into
// wire-turn parts. CSV files are transcoded to JSON text; everything else is
// inlined as a base64 blob.
package attach

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/nstogner/autoassist/pkg/store"
)

// BuildTurn builds a user turn from text and attachment paths. The first part
// always holds the text, with CSV attachments appended to it as JSON; other
// attachments follow as inline parts.
func BuildTurn(fs store.FileStore, text string, paths []string) (store.WireTurn, error) {
	var sb strings.Builder
	sb.WriteString(text)
	var inline []store.Part

	for _, p := range paths {
		data, err := fs.ReadBase64(p)
		if err != nil {
			return store.WireTurn{}, fmt.Errorf("failed to read attachment %s: %w", p, err)
		}
		if IsCSV(p) {
			js, err := csvFromBase64(data)
			if err != nil {
				return store.WireTurn{}, fmt.Errorf("failed to convert %s: %w", p, err)
			}
			fmt.Fprintf(&sb, "\n\n[file: %s]\n%s", filepath.Base(p), js)
			continue
		}
		inline = append(inline, store.Part{InlineData: &store.Blob{MIMEType: MIMEType(p, data), Data: data}})
	}

	parts := append([]store.Part{{Text: sb.String()}}, inline...)
	return store.WireTurn{Role: store.WireRoleUser, Parts: parts}, nil
}

// KnowledgeParts loads knowledge files as parts. Unreadable files are logged
// and skipped.
func KnowledgeParts(fs store.FileStore, files []string) []store.Part {
	var parts []store.Part
	for _, f := range files {
		data, err := fs.ReadBase64(f)
		if err != nil {
			slog.Warn("Skipping unreadable knowledge file", "file", f, "error", err)
			continue
		}
		if IsCSV(f) {
			js, err := csvFromBase64(data)
			if err != nil {
				slog.Warn("Skipping malformed CSV knowledge file", "file", f, "error", err)
				continue
			}
			parts = append(parts, store.Part{Text: fmt.Sprintf("[knowledge file: %s]\n%s", filepath.Base(f), js)})
			continue
		}
		parts = append(parts, store.Part{InlineData: &store.Blob{MIMEType: MIMEType(f, data), Data: data}})
	}
	return parts
}

// WithKnowledge returns a copy of turns with parts appended to the first user
// turn. The input slice and its parts are not modified.
func WithKnowledge(turns []store.WireTurn, parts []store.Part) []store.WireTurn {
	out := make([]store.WireTurn, len(turns))
	copy(out, turns)
	if len(parts) == 0 {
		return out
	}
	for i := range out {
		if out[i].Role != store.WireRoleUser {
			continue
		}
		merged := make([]store.Part, 0, len(out[i].Parts)+len(parts))
		merged = append(merged, out[i].Parts...)
		merged = append(merged, parts...)
		out[i].Parts = merged
		break
	}
	return out
}

// IsCSV reports whether path names a CSV file.
func IsCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}

// MIMEType guesses the MIME type of a file from its extension, falling back
// to content sniffing.
func MIMEType(path, b64 string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if i := strings.Index(t, ";"); i >= 0 {
			t = t[:i]
		}
		return t
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "application/octet-stream"
	}
	t := http.DetectContentType(raw)
	if i := strings.Index(t, ";"); i >= 0 {
		t = t[:i]
	}
	return t
}

func csvFromBase64(data string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	return CSVToJSON(bytes.NewReader(raw))
}

// CSVToJSON converts CSV with a header row into a JSON array of objects keyed
// by column name.
func CSVToJSON(r io.Reader) (string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return "", fmt.Errorf("failed to parse CSV: %w", err)
	}
	rows := []map[string]string{}
	if len(records) == 0 {
		return "[]", nil
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
