// Package ui provides terminal output formatting, user prompts and the
// incremental printer for streamed agent output.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/lowkaihon/unai/llm"
	"github.com/lowkaihon/unai/provider"
)

type styles struct {
	banner lipgloss.Style
	title  lipgloss.Style
	prompt lipgloss.Style
	accent lipgloss.Style
	tool   lipgloss.Style
	hint   lipgloss.Style
	err    lipgloss.Style
	warn   lipgloss.Style
	ok     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		banner: r.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		title:  r.NewStyle().Bold(true),
		prompt: r.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		accent: r.NewStyle().Foreground(lipgloss.Color("6")),
		tool:   r.NewStyle().Foreground(lipgloss.Color("3")),
		hint:   r.NewStyle().Foreground(lipgloss.Color("241")),
		err:    r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warn:   r.NewStyle().Foreground(lipgloss.Color("11")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

// Terminal handles all user-facing output.
type Terminal struct {
	in     *bufio.Reader
	rawIn  io.Reader
	out    io.Writer
	errOut io.Writer
	color  bool
	st     styles
}

// NewTerminal creates a terminal over the given streams. Colors are used
// only when out is a TTY.
func NewTerminal(in io.Reader, out, errOut io.Writer) *Terminal {
	return &Terminal{
		in:     bufio.NewReader(in),
		rawIn:  in,
		out:    out,
		errOut: errOut,
		color:  IsTerminal(out),
		st:     newStyles(lipgloss.NewRenderer(out)),
	}
}

// NewStdTerminal creates a terminal over the process stdio.
func NewStdTerminal() *Terminal {
	return NewTerminal(os.Stdin, os.Stdout, os.Stderr)
}

// IsTerminal reports whether v is an *os.File attached to a terminal.
func IsTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Interactive reports whether both input and output are terminals.
func (t *Terminal) Interactive() bool {
	return IsTerminal(t.rawIn) && IsTerminal(t.out)
}

func (t *Terminal) c(s lipgloss.Style, text string) string {
	if !t.color {
		return text
	}
	return s.Render(text)
}

// PrintBanner prints the startup banner.
func (t *Terminal) PrintBanner(providerName, model, workDir, version string) {
	banner := `
  _   _ _ __   __ _(_)
 | | | | '_ \ / _' | |
 | |_| | | | | (_| | |
  \__,_|_| |_|\__,_|_|
`
	fmt.Fprint(t.out, t.c(t.st.banner, banner))

	versionStr := ""
	if version != "" && version != "dev" {
		versionStr = " v" + version
	}
	fmt.Fprintln(t.out, t.c(t.st.title, "Unified LLM chat")+t.c(t.st.hint, versionStr))
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, t.c(t.st.hint, "  Provider: ")+t.c(t.st.accent, providerName))
	fmt.Fprintln(t.out, t.c(t.st.hint, "  Model:    ")+t.c(t.st.accent, model))
	if workDir != "" {
		fmt.Fprintln(t.out, t.c(t.st.hint, "  Dir:      ")+workDir)
	}
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, t.c(t.st.hint, "  Type ")+t.c(t.st.accent, "/help")+t.c(t.st.hint, " for commands"))
	fmt.Fprintln(t.out)
}

// Prompt returns the formatted prompt string.
func (t *Terminal) Prompt() string {
	return t.c(t.st.prompt, "> ")
}

// ReadLine prints prompt and reads one trimmed line.
func (t *Terminal) ReadLine(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadSecret reads a line without echo when input is a terminal.
func (t *Terminal) ReadSecret(prompt string) (string, error) {
	f, ok := t.rawIn.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return t.ReadLine(prompt)
	}
	fmt.Fprint(t.out, prompt)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// PrintAssistant prints assistant text.
func (t *Terminal) PrintAssistant(text string) {
	fmt.Fprint(t.out, text)
}

// PrintAssistantDone signals end of assistant output.
func (t *Terminal) PrintAssistantDone() {
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out)
}

// PrintToolCall prints a tool invocation.
func (t *Terminal) PrintToolCall(name, args string) {
	fmt.Fprintln(t.out, t.c(t.st.tool, "  ↳ "+name)+t.c(t.st.hint, " "+truncate(args, 100)))
}

// PrintToolResult prints a tool's result, at most five lines.
func (t *Terminal) PrintToolResult(result string) {
	lines := strings.Split(strings.TrimRight(result, "\n"), "\n")
	shown := lines
	if len(lines) > 5 {
		shown = lines[:5]
	}
	for _, line := range shown {
		fmt.Fprintln(t.out, t.c(t.st.hint, "    "+truncate(line, 120)))
	}
	if len(lines) > 5 {
		fmt.Fprintln(t.out, t.c(t.st.hint, fmt.Sprintf("    ... (%d more lines)", len(lines)-5)))
	}
}

func (t *Terminal) PrintError(err error) {
	fmt.Fprintln(t.errOut, t.c(t.st.err, "Error: "+err.Error()))
}

func (t *Terminal) PrintWarning(msg string) {
	fmt.Fprintln(t.errOut, t.c(t.st.warn, "Warning: "+msg))
}

func (t *Terminal) PrintInfo(msg string) {
	fmt.Fprintln(t.out, t.c(t.st.ok, msg))
}

// PrintSpinner prints a thinking indicator.
func (t *Terminal) PrintSpinner() {
	if t.color {
		fmt.Fprint(t.out, t.c(t.st.hint, "  thinking..."))
	}
}

// ClearSpinner clears the thinking indicator.
func (t *Terminal) ClearSpinner() {
	if t.color {
		fmt.Fprint(t.out, "\r\033[K")
	}
}

// PrintHelp prints all available slash commands.
func (t *Terminal) PrintHelp() {
	fmt.Fprintln(t.out, t.c(t.st.title, "Commands"))
	for _, cmd := range [][2]string{
		{"/help   ", "Show this help message"},
		{"/clear  ", "Clear conversation history"},
		{"/tokens ", "Show token usage for this conversation"},
		{"/tools  ", "List available tools"},
		{"/resume ", "Resume a previous session"},
		{"/quit   ", "Exit"},
	} {
		fmt.Fprintln(t.out, t.c(t.st.accent, "  "+cmd[0])+" "+cmd[1])
	}
	fmt.Fprintln(t.out)
}

// PrintUsage prints token usage. reported comes from the provider and
// estimated from the local tokenizer.
func (t *Terminal) PrintUsage(reported llm.Usage, estimated, msgCount int) {
	fmt.Fprintln(t.out, t.c(t.st.title, "Token Usage"))
	if reported.Total() > 0 {
		fmt.Fprintf(t.out, "  Reported: %s prompt + %s completion = %s\n",
			formatNum(reported.PromptTokens), formatNum(reported.CompletionTokens), formatNum(reported.Total()))
	}
	fmt.Fprintf(t.out, "  History:  ~%s tokens in %d messages\n", formatNum(estimated), msgCount)
	fmt.Fprintln(t.out)
}

// PrintProviders lists known providers and where their key comes from.
func (t *Terminal) PrintProviders(infos []provider.Info, current string) {
	for _, info := range infos {
		marker := "  "
		if info.Name == current {
			marker = t.c(t.st.ok, "→ ")
		}
		key := info.KeyEnv
		if !info.NeedsKey {
			key += " (optional)"
		}
		fmt.Fprintf(t.out, "%s%-12s %-45s %s\n", marker, info.Name, info.DefaultModel, t.c(t.st.hint, key))
	}
}

// PrintTools lists tool names with their serving server.
func (t *Terminal) PrintTools(items []ToolListItem) {
	if len(items) == 0 {
		fmt.Fprintln(t.out, t.c(t.st.hint, "No tools configured."))
		return
	}
	for _, item := range items {
		fmt.Fprintf(t.out, "  %s %s\n", t.c(t.st.tool, fmt.Sprintf("%-20s", item.Name)), t.c(t.st.hint, "["+item.ServerID+"]"))
		if item.Description != "" {
			fmt.Fprintf(t.out, "      %s\n", truncate(item.Description, 100))
		}
	}
}

// ToolListItem is a tool entry for display.
type ToolListItem struct {
	ServerID    string
	Name        string
	Description string
}

// SessionListItem represents a session entry for display.
type SessionListItem struct {
	ID       string
	Updated  time.Time
	Model    string
	Preview  string
	MsgCount int
}

// PrintSessionList displays a numbered list of recent sessions.
func (t *Terminal) PrintSessionList(items []SessionListItem) {
	if len(items) == 0 {
		fmt.Fprintln(t.out, t.c(t.st.hint, "No sessions found."))
		return
	}
	fmt.Fprintln(t.out, t.c(t.st.title, "Recent sessions:"))
	for i, item := range items {
		fmt.Fprintf(t.out, "  %s  %s  %s  %s  %s\n",
			t.c(t.st.accent, fmt.Sprintf("[%d]", i+1)),
			t.c(t.st.hint, fmt.Sprintf("%-8s", formatAge(item.Updated))),
			item.ID[:min(8, len(item.ID))],
			fmt.Sprintf("%q", truncate(item.Preview, 60)),
			t.c(t.st.hint, fmt.Sprintf("(%d messages, %s)", item.MsgCount, item.Model)),
		)
	}
	fmt.Fprintln(t.out)
}

// PrintSessionResumed prints a confirmation after resuming a session.
func (t *Terminal) PrintSessionResumed(msgCount int, preview string) {
	t.PrintInfo(fmt.Sprintf("Resumed session: %q (%d messages)", truncate(preview, 60), msgCount))
	fmt.Fprintln(t.out)
}

// PrintConversationHistory replays a stored conversation.
func (t *Terminal) PrintConversationHistory(messages []llm.Message) {
	fmt.Fprintln(t.out, t.c(t.st.hint, "--- Conversation history ---"))
	fmt.Fprintln(t.out)
	for _, msg := range messages {
		switch msg.Role() {
		case llm.RoleSystem:
			continue
		case llm.RoleUser:
			if text := msg.Text(); text != "" {
				fmt.Fprintln(t.out, t.Prompt()+text)
				fmt.Fprintln(t.out)
			}
			for _, p := range msg.Parts {
				if fr, ok := p.(llm.FunctionResponse); ok {
					t.PrintToolResult(string(fr.Response))
				}
			}
		case llm.RoleAssistant:
			if text := msg.Text(); text != "" {
				t.PrintAssistant(text)
				t.PrintAssistantDone()
			}
			for _, fc := range msg.FunctionCalls() {
				t.PrintToolCall(fc.Name, string(fc.Arguments))
			}
		}
	}
	fmt.Fprintln(t.out, t.c(t.st.hint, "--- End of history ---"))
	fmt.Fprintln(t.out)
}

func formatNum(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 0 || len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
