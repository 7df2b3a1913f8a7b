// Package milestones loads the ordered (threshold, label) table a journey is
// measured against. Thresholds are in miles.
package milestones

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/infrastructure/storage"
	"github.com/fitglue/journey/pkg/types"
)

var (
	distanceColumns = []string{"miles", "distance", "threshold"}
	labelColumns    = []string{"where", "label", "name"}
)

// Loader reads milestone tables from local files or GCS.
type Loader struct {
	// Blobs serves gs:// sources; may be nil when only local paths are used.
	Blobs  shared.BlobStore
	Logger *slog.Logger
}

func NewLoader(blobs shared.BlobStore, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{Blobs: blobs, Logger: logger.With("component", "milestones")}
}

// Load reads and parses source. Malformed rows are dropped; an unreadable
// source is an error.
func (l *Loader) Load(ctx context.Context, source string) ([]types.MilestoneEntry, error) {
	data, name, err := l.read(ctx, source)
	if err != nil {
		return nil, err
	}

	var entries []types.MilestoneEntry
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		entries, err = ParseYAML(data, l.Logger)
	default:
		entries, err = ParseCSV(bytes.NewReader(data), l.Logger)
	}
	if err != nil {
		return nil, fmt.Errorf("parse milestones %s: %w", source, err)
	}

	l.Logger.Info("Loaded milestones", "source", source, "count", len(entries))
	return entries, nil
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, string, error) {
	if strings.TrimSpace(source) == "" {
		return nil, "", errors.New("milestones source is required")
	}

	if bucket, object, ok := storage.ParseURI(source); ok {
		if l.Blobs == nil {
			return nil, "", fmt.Errorf("cannot read %s: no blob store configured", source)
		}
		data, err := l.Blobs.Read(ctx, bucket, object)
		if err != nil {
			return nil, "", fmt.Errorf("read milestones %s: %w", source, err)
		}
		return data, object, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, "", fmt.Errorf("read milestones %s: %w", source, err)
	}
	return data, source, nil
}

// ParseCSV reads a table with a header naming the distance and label columns.
// Without a recognised header the first two columns are used. Each line is
// one record, so a malformed line is dropped without touching its neighbours.
func ParseCSV(r io.Reader, logger *slog.Logger) ([]types.MilestoneEntry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		entries           []types.MilestoneEntry
		distCol, labelCol int
		seenFirst         bool
	)

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimRight(scanner.Text(), "\r")
		if line == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		rec, err := parseLine(text)
		if err != nil {
			logger.Debug("Dropping unparseable milestone row", "line", line, "error", err)
			continue
		}

		if !seenFirst {
			seenFirst = true
			var isHeader bool
			distCol, labelCol, isHeader = headerColumns(rec)
			if isHeader {
				continue
			}
		}

		if distCol >= len(rec) || labelCol >= len(rec) {
			logger.Debug("Dropping short milestone row", "line", line)
			continue
		}
		if e, ok := parseRow(rec[distCol], rec[labelCol]); ok {
			entries = append(entries, e)
		} else {
			logger.Debug("Dropping malformed milestone row", "line", line, "threshold", rec[distCol], "label", rec[labelCol])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read milestones: %w", err)
	}
	return sortEntries(entries), nil
}

// parseLine splits one CSV line. A bare quote inside an unquoted field is
// taken literally; an unterminated quoted field is an error.
func parseLine(text string) ([]string, error) {
	rec, err := newLineReader(text, false).Read()
	var pe *csv.ParseError
	if errors.As(err, &pe) && errors.Is(pe.Err, csv.ErrBareQuote) {
		rec, err = newLineReader(text, true).Read()
	}
	return rec, err
}

func newLineReader(text string, lazy bool) *csv.Reader {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = lazy
	return reader
}

func headerColumns(row []string) (distCol, labelCol int, isHeader bool) {
	distCol, labelCol = -1, -1
	for i, cell := range row {
		name := strings.ToLower(strings.TrimSpace(cell))
		if distCol == -1 && contains(distanceColumns, name) {
			distCol = i
		}
		if labelCol == -1 && contains(labelColumns, name) {
			labelCol = i
		}
	}
	isHeader = distCol != -1 || labelCol != -1
	if distCol == -1 {
		distCol = 0
		if labelCol == 0 {
			distCol = 1
		}
	}
	if labelCol == -1 {
		labelCol = 1
		if distCol == 1 {
			labelCol = 0
		}
	}
	return distCol, labelCol, isHeader
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

type yamlEntry struct {
	Miles     string `yaml:"miles"`
	Threshold string `yaml:"threshold"`
	Where     string `yaml:"where"`
	Label     string `yaml:"label"`
}

// ParseYAML reads a list of {miles, where} mappings.
func ParseYAML(data []byte, logger *slog.Logger) ([]types.MilestoneEntry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var raw []yamlEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var entries []types.MilestoneEntry
	for i, r := range raw {
		threshold := firstNonEmpty(r.Miles, r.Threshold)
		label := firstNonEmpty(r.Where, r.Label)
		if e, ok := parseRow(threshold, label); ok {
			entries = append(entries, e)
		} else {
			logger.Debug("Dropping malformed milestone entry", "index", i, "threshold", threshold, "label", label)
		}
	}
	return sortEntries(entries), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseRow(threshold, label string) (types.MilestoneEntry, bool) {
	miles, err := strconv.ParseFloat(strings.TrimSpace(threshold), 64)
	if err != nil || math.IsNaN(miles) || math.IsInf(miles, 0) || miles < 0 {
		return types.MilestoneEntry{}, false
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return types.MilestoneEntry{}, false
	}
	return types.MilestoneEntry{Threshold: miles, Label: label}, true
}

// sortEntries orders by threshold ascending; equal thresholds keep source order.
func sortEntries(entries []types.MilestoneEntry) []types.MilestoneEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Threshold < entries[j].Threshold
	})
	return entries
}
