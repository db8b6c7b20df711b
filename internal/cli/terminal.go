package cli

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bastiangx/symserve/internal/utils"
	"github.com/charmbracelet/log"
	"github.com/peterh/liner"
)

var commands = []string{":stats", ":reset", ":quit"}

// StartTerminal runs the prompt with line editing, history and tab completion
// of symbol labels. History is read from and saved to histPath. Use Start when
// stdin is not a terminal.
func (h *InputHandler) StartTerminal(histPath string) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(h.complete)

	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer saveHistory(line, histPath)

	log.Print("symserve CLI")
	log.Print("type a symbol prefix and press Enter, Tab completes (:stats, :reset, :quit):")

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if h.handleLine(input) {
			return nil
		}
	}
}

// complete offers command names or the labels of matching symbols.
func (h *InputHandler) complete(input string) []string {
	if strings.HasPrefix(input, ":") {
		var out []string
		for _, c := range commands {
			if strings.HasPrefix(c, input) {
				out = append(out, c)
			}
		}
		return out
	}
	if !utils.IsValidQuery(input) {
		return nil
	}
	groups := h.source().SearchN(input, h.limit)
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Label)
	}
	return out
}

func saveHistory(line *liner.State, path string) {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		log.Debugf("Saving CLI history: %v", err)
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
