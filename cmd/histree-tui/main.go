package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/histree-io/histree/pkg/client"
	"github.com/histree-io/histree/pkg/mirror"
	"github.com/histree-io/histree/pkg/render"
)

// Config
const (
	defaultEndpoint = "http://localhost:8091"
	defaultFileID   = "default"
	pollRate        = time.Second
	requestTimeout  = 2 * time.Second
	canvasHeight    = 20
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	modeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	// Layout styles
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)
)

type tickMsg time.Time

type snapshotMsg struct {
	graph client.Graph
	err   error
}

type navMsg struct {
	mode string
	err  error
}

type model struct {
	spinner  spinner.Model
	viewport viewport.Model
	cli      *client.Client
	fileID   string
	mirror   *mirror.Mirror
	lastMode string
	stale    bool
	err      error
	ready    bool
}

func initialModel(endpoint, fileID string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	vp := viewport.New(100, canvasHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	return model{
		spinner:  s,
		viewport: vp,
		cli:      client.NewClient(endpoint),
		fileID:   fileID,
		mirror:   mirror.New(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchSnapshot(m.cli, m.fileID),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "left":
			if m.mirror.Left() {
				m.updateViewportContent()
			}
			return m, nil

		case "right":
			if m.mirror.Right() {
				m.updateViewportContent()
			}
			return m, nil

		case "down":
			// Optimistic: move the local pointer now, tell the daemon
			// in the background. The next snapshot settles any dispute.
			if mv, ok := m.mirror.Descend(); ok {
				m.updateViewportContent()
				return m, navigate(m.cli, m.fileID, mv)
			}
			return m, nil

		case "up":
			if mv, ok := m.mirror.Ascend(); ok {
				m.updateViewportContent()
				return m, navigate(m.cli, m.fileID, mv)
			}
			return m, nil

		case "r":
			return m, fetchSnapshot(m.cli, m.fileID)
		}

		// Pass remaining key messages to viewport (scrolling)
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchSnapshot(m.cli, m.fileID), tick())

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			changed, err := m.mirror.ApplySnapshot(msg.graph)
			switch {
			case errors.Is(err, mirror.ErrStaleClientState):
				m.stale = true
			case err != nil:
				m.err = err
			default:
				m.stale = false
				if changed {
					m.updateViewportContent()
				}
			}
		}

		if !m.ready {
			m.ready = true
			m.updateViewportContent()
		}

	case navMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.lastMode = msg.mode
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = canvasHeight
		m.updateViewportContent()
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	if !m.mirror.Primed() {
		m.viewport.SetContent(subtleStyle.Render("Waiting for the first snapshot..."))
		return
	}

	// Rebuild the tree shape from the mirror, walking down from the root.
	t := render.Tree{Root: m.mirror.Root(), Children: make(map[string][]string)}
	stack := []string{t.Root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := t.Children[id]; ok {
			continue
		}
		kids := m.mirror.Children(id)
		t.Children[id] = kids
		stack = append(stack, kids...)
	}

	w := m.viewport.Width - 4
	if w < 0 {
		w = 0
	}
	opts := render.Options{
		CurrentID: m.mirror.Current(),
		Width:     w,
		Height:    m.viewport.Height,
	}
	if child, ok := m.mirror.SelectedChild(); ok {
		opts.HighlightFrom = m.mirror.Current()
		opts.HighlightTo = child
	}
	m.viewport.SetContent(render.Draw(t, opts))
}

func (m model) detailView() string {
	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Current Node") + "\n\n")

	if !m.mirror.Primed() {
		sb.WriteString(subtleStyle.Render("No snapshot yet."))
		return paneStyle.Render(sb.String())
	}

	cur := m.mirror.Current()
	sb.WriteString(fmt.Sprintf("id: %s\n", idStyle.Render(cur)))
	if n, ok := m.mirror.Node(cur); ok {
		sb.WriteString(fmt.Sprintf("delta: %s\n", compactDelta(n.Delta)))
	}

	kids := m.mirror.Children(cur)
	if len(kids) == 0 {
		sb.WriteString(subtleStyle.Render("leaf node"))
	} else if child, ok := m.mirror.SelectedChild(); ok {
		idx := 0
		for i, k := range kids {
			if k == child {
				idx = i
				break
			}
		}
		sb.WriteString(fmt.Sprintf("child %d/%d: %s", idx+1, len(kids), idStyle.Render(child)))
	}

	return paneStyle.Render(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting to %s...", m.spinner.View(), m.fileID)
	}

	header := headerStyle.Render(fmt.Sprintf("%s histree — %s", m.spinner.View(), m.fileID))
	canvas := m.viewport.View()
	detail := m.detailView()

	// Status Footer
	var status string
	switch {
	case m.stale:
		status = staleStyle.Render("Stale: the current node vanished from the server — press r to resync")
	case m.err != nil:
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	default:
		status = okStyle.Render(fmt.Sprintf("Online • %d nodes • current %s", m.mirror.Len(), m.mirror.Current()))
		if m.lastMode != "" {
			status += modeStyle.Render(fmt.Sprintf(" • last navigate: %s", m.lastMode))
		}
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\n←/→ select child • ↓ descend (apply) • ↑ ascend (revert) • r refresh • q quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, header, canvas, detail, footer)
}

// Commands

func fetchSnapshot(cli *client.Client, fileID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		g, err := cli.Graph(ctx, fileID)
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{graph: g}
	}
}

func navigate(cli *client.Client, fileID string, mv mirror.Move) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		mode, err := cli.Navigate(ctx, fileID, mv.CurrentNodeID, mv.TargetNodeID)
		return navMsg{mode: mode, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func compactDelta(raw []byte) string {
	s := string(raw)
	if s == "" {
		s = "null"
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	endpoint := flag.String("api", envOr("HISTREE_ENDPOINT", defaultEndpoint), "daemon API endpoint")
	fileID := flag.String("file", envOr("HISTREE_FILE_ID", defaultFileID), "file id to navigate")
	flag.Parse()

	p := tea.NewProgram(initialModel(*endpoint, *fileID), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
