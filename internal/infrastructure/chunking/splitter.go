package chunking

import (
	"regexp"
	"strings"
)

var (
	tableBlock   = regexp.MustCompile(`(?m)(?:^[ \t]*\|.*\|[ \t]*(?:\r?\n|$))+`)
	separatorRow = regexp.MustCompile(`^\|[\s:|-]+\|$`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// dedupPrefix is how many leading runes identify a duplicate chunk.
const dedupPrefix = 100

// Splitter flattens markdown tables into one "Header: value" chunk per table
// and cuts the remaining prose into rune windows.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []string
	for _, table := range tableBlock.FindAllString(text, -1) {
		if flat := flattenTable(table); flat != "" {
			out = append(out, flat)
		}
	}
	prose := tableBlock.ReplaceAllString(text, "\n")
	prose = strings.TrimSpace(blankRuns.ReplaceAllString(prose, "\n\n"))
	out = append(out, s.window(prose)...)

	return dedup(out)
}

func (s *Splitter) window(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+s.ChunkSize, len(runes))
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// flattenTable turns each data row into "h1: c1, h2: c2". Rows whose column
// count differs from the header are dropped.
func flattenTable(table string) string {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(table), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || separatorRow.MatchString(line) {
			continue
		}
		rows = append(rows, splitCells(line))
	}
	if len(rows) < 2 {
		return ""
	}

	headers := rows[0]
	lines := make([]string, 0, len(rows)-1)
	for _, cols := range rows[1:] {
		if len(cols) != len(headers) {
			continue
		}
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = headers[i] + ": " + c
		}
		lines = append(lines, strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

func splitCells(row string) []string {
	var cells []string
	for _, c := range strings.Split(row, "|") {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

func dedup(chunks []string) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := chunks[:0]
	for _, c := range chunks {
		key := c
		if r := []rune(c); len(r) > dedupPrefix {
			key = string(r[:dedupPrefix])
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
