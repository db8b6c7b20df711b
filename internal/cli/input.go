// Package cli provides an interactive prompt for trying symbol searches
// against a loaded index.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bastiangx/symserve/internal/utils"
	"github.com/bastiangx/symserve/pkg/symbols"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

const labelWidth = 40

var (
	matchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	scopeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	countStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// InputHandler reads queries line by line and prints the matching groups.
// A query that extends the previous one narrows the previous results.
type InputHandler struct {
	source    func() *symbols.Index
	current   *symbols.Index
	session   *symbols.Session
	limit     int
	maxQuery  int
	highlight bool
	out       io.Writer
}

// NewInputHandler creates a handler. source is consulted before every query so
// that reloads are picked up.
func NewInputHandler(source func() *symbols.Index, limit, maxQuery int, highlight bool, out io.Writer) *InputHandler {
	return &InputHandler{
		source:    source,
		limit:     limit,
		maxQuery:  maxQuery,
		highlight: highlight,
		out:       out,
	}
}

// Start begins the prompt loop and returns nil at EOF.
// Lines starting with ':' are commands (:stats, :reset, :quit).
func (h *InputHandler) Start(in io.Reader) error {
	log.Print("symserve CLI")
	log.Print("type a symbol prefix and press Enter (:stats, :reset, :quit, Ctrl+C to exit):")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(h.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if h.handleLine(strings.TrimRight(scanner.Text(), "\r")) {
			return nil
		}
	}
}

// handleLine dispatches one line and reports whether the user asked to quit.
func (h *InputHandler) handleLine(line string) bool {
	if strings.HasPrefix(line, ":") {
		return h.handleCommand(strings.TrimSpace(line[1:]))
	}
	h.handleInput(line)
	return false
}

func (h *InputHandler) handleCommand(cmd string) (quit bool) {
	switch cmd {
	case "q", "quit", "exit":
		return true
	case "reset":
		if h.session != nil {
			h.session.Reset()
		}
		fmt.Fprintln(h.out, "session reset")
	case "stats":
		st := h.source().Stats()
		fmt.Fprintf(h.out, "entries: %s  keys: %s  occurrences: %s  buckets: %d\n",
			utils.FormatCount(st.Entries), utils.FormatCount(st.Keys),
			utils.FormatCount(st.Occurrences), st.Buckets)
	default:
		log.Errorf("Unknown command: %s", cmd)
	}
	return false
}

// handleInput runs one query through the session and prints its groups.
func (h *InputHandler) handleInput(query string) {
	if !utils.IsValidQuery(query) {
		if query != "" {
			log.Errorf("Invalid query: %q", query)
		}
		return
	}
	if len([]rune(query)) > h.maxQuery {
		log.Errorf("Query too long: %s", utils.Truncate(query, 24))
		return
	}

	if ix := h.source(); ix != h.current || h.session == nil {
		h.current = ix
		h.session = symbols.NewSession(ix)
	}

	start := time.Now()
	groups := h.session.UpdateN(query, h.limit)
	elapsed := time.Since(start)
	log.Debugf("Took [ %v ] for query '%s'", elapsed, query)

	if len(groups) == 0 {
		fmt.Fprintf(h.out, "no symbols match '%s'\n", query)
		return
	}

	fmt.Fprintf(h.out, "%s symbols match '%s':\n", h.style(countStyle, utils.FormatCount(len(groups))), query)
	prefixLen := len([]rune(h.session.Query()))
	for i, g := range groups {
		label := utils.PadRight(utils.Truncate(g.Label, labelWidth), labelWidth)
		fmt.Fprintf(h.out, "%3d. %s %s\n", i+1, h.highlightPrefix(label, prefixLen), h.style(scopeStyle, scopesOf(g)))
	}
}

// highlightPrefix emphasizes the first n runes of label.
func (h *InputHandler) highlightPrefix(label string, n int) string {
	runes := []rune(label)
	n = min(n, len(runes))
	return h.style(matchStyle, string(runes[:n])) + string(runes[n:])
}

func (h *InputHandler) style(s lipgloss.Style, text string) string {
	if !h.highlight {
		return text
	}
	return s.Render(text)
}

func scopesOf(g symbols.ResultGroup) string {
	scopes := make([]string, 0, len(g.Occurrences))
	for _, o := range g.Occurrences {
		if o.Scope == "" {
			scopes = append(scopes, o.Anchor)
			continue
		}
		scopes = append(scopes, o.Scope)
	}
	return strings.Join(scopes, ", ")
}
