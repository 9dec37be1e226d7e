// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Binary bool
	Hunks  []Hunk
	Stats  struct {
		Additions int
		Deletions int
		Changes   int
	}
}

func (r *DiffResult) Empty() bool {
	return !r.Binary && len(r.Hunks) == 0
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) *DiffResult {
	result := &DiffResult{}
	if bytes.Equal(oldContent, newContent) {
		return result
	}
	if isBinary(oldContent) || isBinary(newContent) {
		result.Binary = true
		return result
	}

	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	script := e.editScript(oldLines, newLines)
	result.Hunks = e.groupHunks(script)

	for _, line := range script {
		switch line.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

func isBinary(content []byte) bool {
	return bytes.IndexByte(content, 0) >= 0
}

// computeLCS fills matrix[i][j] with the LCS length of oldLines[i:] and
// newLines[j:].
func (e *Engine) computeLCS(oldLines, newLines [][]byte) [][]int {
	matrix := make([][]int, len(oldLines)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(newLines)+1)
	}

	for i := len(oldLines) - 1; i >= 0; i-- {
		for j := len(newLines) - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				matrix[i][j] = matrix[i+1][j+1] + 1
			} else {
				matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
			}
		}
	}

	return matrix
}

// editScript walks the LCS matrix forward. Within a change, deletions come
// before additions.
func (e *Engine) editScript(oldLines, newLines [][]byte) []Line {
	lcs := e.computeLCS(oldLines, newLines)
	script := make([]Line, 0, len(oldLines)+len(newLines))

	i, j := 0, 0
	for i < len(oldLines) || j < len(newLines) {
		switch {
		case i < len(oldLines) && j < len(newLines) && bytes.Equal(oldLines[i], newLines[j]):
			script = append(script, Line{Type: Context, Content: string(oldLines[i]), OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case i < len(oldLines) && (j == len(newLines) || lcs[i+1][j] >= lcs[i][j+1]):
			script = append(script, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: i + 1, NewNum: j})
			i++
		default:
			script = append(script, Line{Type: Addition, Content: string(newLines[j]), OldNum: i, NewNum: j + 1})
			j++
		}
	}
	return script
}

// groupHunks cuts the script into hunks of changes with up to contextLines
// of surrounding context. Changes closer than twice the context share a hunk.
func (e *Engine) groupHunks(script []Line) []Hunk {
	var hunks []Hunk

	n := len(script)
	for k := 0; k < n; {
		if script[k].Type == Context {
			k++
			continue
		}

		start := max(0, k-e.contextLines)
		end := k
		for end < n {
			if script[end].Type != Context {
				end++
				continue
			}
			run := end
			for run < n && script[run].Type == Context {
				run++
			}
			if run == n || run-end > 2*e.contextLines {
				end = min(n, end+e.contextLines)
				break
			}
			end = run
		}

		hunks = append(hunks, newHunk(script[start:end]))
		k = end
	}
	return hunks
}

func newHunk(lines []Line) Hunk {
	h := Hunk{Lines: lines}
	for _, l := range lines {
		switch l.Type {
		case Context:
			h.OldLines++
			h.NewLines++
		case Deletion:
			h.OldLines++
		case Addition:
			h.NewLines++
		}
	}

	first := lines[0]
	switch first.Type {
	case Context:
		h.OldStart, h.NewStart = first.OldNum, first.NewNum
	case Deletion:
		h.OldStart, h.NewStart = first.OldNum, first.NewNum+1
	case Addition:
		h.OldStart, h.NewStart = first.OldNum+1, first.NewNum
	}
	// unified format names the line before an empty range
	if h.OldLines == 0 {
		h.OldStart--
	}
	if h.NewLines == 0 {
		h.NewStart--
	}
	return h
}

// Format returns a string representation of the diff
func (r *DiffResult) Format() string {
	var buf bytes.Buffer
	if r.Binary {
		buf.WriteString("Binary content differs\n")
		return buf.String()
	}

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			buf.WriteString(line.Type.Prefix())
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

func (t LineType) Prefix() string {
	switch t {
	case Addition:
		return "+"
	case Deletion:
		return "-"
	}
	return " "
}
