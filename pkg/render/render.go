// Package render draws a version tree as a character grid. Layout is a
// pure function from tree shape to per-node positions; drawing fills a
// rune canvas with node glyphs and Bresenham edges. Nothing in here
// mutates the tree.
package render

import "strings"

const (
	// leafWidth and siblingGap are in canvas columns. Widths stay even
	// so subtree centers land on whole columns.
	leafWidth  = 2
	siblingGap = 8
	// rankRows is the vertical distance between a parent's row and its
	// children's row.
	rankRows = 6

	currentGlyph = 'x'
	otherGlyph   = 'o'
	selectGlyph  = '*'
)

// Tree is the adjacency the renderer consumes. Children must be listed
// in the order they should appear left to right.
type Tree struct {
	Root     string
	Children map[string][]string
}

// Pos is a node's cell on the canvas.
type Pos struct {
	Row, Col int
}

// Options select glyph decoration and the viewport.
type Options struct {
	// CurrentID is drawn as 'x'; every other node as 'o'.
	CurrentID string
	// HighlightFrom/HighlightTo name an edge drawn with '*' instead of
	// its slope glyph. Both empty disables highlighting.
	HighlightFrom string
	HighlightTo   string
	// Width and Height crop the canvas to a window centered on the
	// current node. Zero or negative disables cropping on that axis.
	Width  int
	Height int
}

// Layout assigns every reachable node a canvas position: children left
// to right with a fixed gap between sibling subtrees, parents centered
// between their first and last child. Iterative throughout, so graph
// depth never turns into call depth.
func Layout(t Tree) map[string]Pos {
	if t.Root == "" {
		return map[string]Pos{}
	}

	// Pre-order capture, then reversed for a post-order width pass.
	order := make([]string, 0, len(t.Children)+1)
	seen := map[string]bool{t.Root: true}
	stack := []string{t.Root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, id)
		children := t.Children[id]
		for i := len(children) - 1; i >= 0; i-- {
			c := children[i]
			if seen[c] {
				continue
			}
			seen[c] = true
			stack = append(stack, c)
		}
	}

	widths := make(map[string]int, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		w := 0
		n := 0
		for _, c := range t.Children[id] {
			if _, ok := widths[c]; !ok {
				continue // back edge
			}
			w += widths[c]
			n++
		}
		if n > 0 {
			w += siblingGap * (n - 1)
		}
		if w < leafWidth {
			w = leafWidth
		}
		widths[id] = w
	}

	type frame struct {
		id     string
		offset int
		depth  int
	}
	pos := make(map[string]Pos, len(order))
	frames := []frame{{id: t.Root}}
	for len(frames) > 0 {
		f := frames[len(frames)-1]
		frames = frames[:len(frames)-1]

		row := f.depth * rankRows
		children := t.Children[f.id]
		childOffset := f.offset
		first, last := -1, -1
		for _, c := range children {
			if _, placed := pos[c]; placed {
				continue
			}
			w := widths[c]
			frames = append(frames, frame{id: c, offset: childOffset, depth: f.depth + 1})
			center := childOffset + w/2
			if first < 0 {
				first = center
			}
			last = center
			childOffset += w + siblingGap
		}

		col := f.offset + widths[f.id]/2
		if first >= 0 {
			col = (first + last) / 2
		}
		pos[f.id] = Pos{Row: row, Col: col}
	}
	return pos
}

// Draw renders the tree to a string, one canvas row per line with
// trailing blanks trimmed. Edges are drawn first and node glyphs last,
// so a glyph always wins the cell it sits on. The highlighted edge is
// drawn after the rest to keep its '*' run intact where lines cross.
func Draw(t Tree, opts Options) string {
	pos := Layout(t)
	if len(pos) == 0 {
		return ""
	}

	rows, cols := 0, 0
	for _, p := range pos {
		if p.Row >= rows {
			rows = p.Row + 1
		}
		if p.Col >= cols {
			cols = p.Col + 1
		}
	}
	c := newCanvas(rows, cols)

	var hiFrom, hiTo *Pos
	for parent, children := range t.Children {
		pp, ok := pos[parent]
		if !ok {
			continue
		}
		for _, child := range children {
			cp, ok := pos[child]
			if !ok {
				continue
			}
			if parent == opts.HighlightFrom && child == opts.HighlightTo {
				from, to := pp, cp
				hiFrom, hiTo = &from, &to
				continue
			}
			c.line(pp, cp, edgeRune(pp, cp))
		}
	}
	if hiFrom != nil {
		c.line(*hiFrom, *hiTo, selectGlyph)
	}

	for id, p := range pos {
		g := otherGlyph
		if id == opts.CurrentID {
			g = currentGlyph
		}
		c.set(p.Row, p.Col, rune(g))
	}

	if opts.Width > 0 || opts.Height > 0 {
		center, ok := pos[opts.CurrentID]
		if !ok {
			center = pos[t.Root]
		}
		c = c.crop(center, opts.Width, opts.Height)
	}
	return c.String()
}

type canvas struct {
	cells [][]rune
}

func newCanvas(rows, cols int) *canvas {
	cells := make([][]rune, rows)
	for i := range cells {
		row := make([]rune, cols)
		for j := range row {
			row[j] = ' '
		}
		cells[i] = row
	}
	return &canvas{cells: cells}
}

func (c *canvas) set(row, col int, r rune) {
	if row < 0 || row >= len(c.cells) {
		return
	}
	if col < 0 || col >= len(c.cells[row]) {
		return
	}
	c.cells[row][col] = r
}

// line marks cells from a to b with ch using Bresenham's algorithm,
// endpoints included.
func (c *canvas) line(a, b Pos, ch rune) {
	x, y := a.Col, a.Row
	dx, sx := abs(b.Col-a.Col), step(a.Col, b.Col)
	dy, sy := -abs(b.Row-a.Row), step(a.Row, b.Row)
	err := dx + dy
	for {
		c.set(y, x, ch)
		if x == b.Col && y == b.Row {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// crop returns the width x height window of the canvas centered on p,
// clamped to the canvas bounds. Non-positive dimensions keep the full
// extent on that axis.
func (c *canvas) crop(p Pos, width, height int) *canvas {
	fullRows := len(c.cells)
	fullCols := 0
	if fullRows > 0 {
		fullCols = len(c.cells[0])
	}
	if width <= 0 || width > fullCols {
		width = fullCols
	}
	if height <= 0 || height > fullRows {
		height = fullRows
	}

	top := clamp(p.Row-height/2, 0, fullRows-height)
	left := clamp(p.Col-width/2, 0, fullCols-width)

	out := &canvas{cells: make([][]rune, height)}
	for i := 0; i < height; i++ {
		out.cells[i] = c.cells[top+i][left : left+width]
	}
	return out
}

func (c *canvas) String() string {
	lines := make([]string, len(c.cells))
	for i, row := range c.cells {
		lines[i] = strings.TrimRight(string(row), " ")
	}
	return strings.Join(lines, "\n")
}

func edgeRune(a, b Pos) rune {
	switch {
	case a.Row == b.Row:
		return '-'
	case a.Col == b.Col:
		return '|'
	case (b.Row-a.Row)*(b.Col-a.Col) > 0:
		return '\\'
	default:
		return '/'
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func step(from, to int) int {
	if from < to {
		return 1
	}
	return -1
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
