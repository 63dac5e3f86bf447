package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"LearnChat/internal/availability"
	"LearnChat/internal/chatbot"
	"LearnChat/internal/session"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

type styles struct {
	user     lipgloss.Style
	bot      lipgloss.Style
	thinking lipgloss.Style
	online   lipgloss.Style
	offline  lipgloss.Style
	unknown  lipgloss.Style
	err      lipgloss.Style
	dim      lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		user:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		bot:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("170")),
		thinking: r.NewStyle().Italic(true).Foreground(lipgloss.Color("#888888")),
		online:   r.NewStyle().Foreground(lipgloss.Color("42")),
		offline:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		unknown:  r.NewStyle().Foreground(lipgloss.Color("#AFAFAF")),
		err:      r.NewStyle().Foreground(lipgloss.Color("196")),
		dim:      r.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Terminal hosts a chat widget on a line-oriented terminal
type Terminal struct {
	widget      *chatbot.Widget
	in          io.Reader
	out         io.Writer
	interactive bool
	logger      *slog.Logger
	styles      styles

	mu          sync.Mutex
	rendered    int // transcript messages already printed
	showingTemp bool
}

// NewTerminal creates a host reading lines from in and printing the
// transcript to out. The prompt is shown only when out is a terminal.
func NewTerminal(w *chatbot.Widget, in io.Reader, out io.Writer, logger *slog.Logger) *Terminal {
	if logger == nil {
		logger = slog.Default()
	}
	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Terminal{
		widget:      w,
		in:          in,
		out:         out,
		interactive: interactive,
		logger:      logger,
		styles:      newStyles(lipgloss.NewRenderer(out)),
	}
}

// Run mounts the widget and serves input until EOF, /quit or ctx is done.
// The widget is closed on return.
func (t *Terminal) Run(ctx context.Context) error {
	defer t.widget.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.widget.Store().Subscribe(t.render)
	if m := t.widget.Monitor(); m != nil {
		m.OnChange(t.renderAvailability)
	}

	t.printf("%s\n", t.styles.bot.Render("=== LearnChat ==="))
	t.printf("%s\n\n", t.styles.dim.Render("Session: "+t.widget.Store().ID()+"  Type /help for commands, /quit to exit"))
	t.render(t.widget.Store().Snapshot())
	t.widget.Start()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		t.prompt()

		var line string
		select {
		case <-ctx.Done():
			t.printf("\nGoodbye!\n")
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			t.printf("Goodbye!\n")
			return nil
		case line = <-lines:
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := t.handleCommand(ctx, input)
			if err != nil {
				t.printf("%s\n", t.styles.err.Render("Error: "+err.Error()))
				t.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				t.printf("Goodbye!\n")
				return nil
			}
			continue
		}

		t.widget.Store().SetInput(line)
		if err := t.widget.Submit(ctx, input); err != nil {
			if errors.Is(err, chatbot.ErrClosed) || errors.Is(err, context.Canceled) {
				t.printf("\nGoodbye!\n")
				return nil
			}
			t.printf("%s\n", t.styles.err.Render("Error: "+err.Error()))
			t.logger.Error("failed to submit message", "error", err)
		}
	}
}

// handleCommand handles slash commands
func (t *Terminal) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/status":
		m := t.widget.Monitor()
		if m == nil {
			return false, fmt.Errorf("no status endpoint configured")
		}
		state := m.ProbeNow(ctx)
		t.printf("Assistant is %s (checked %s)\n", t.badge(state), m.CheckedAt().Format(time.Kitchen))
		return false, nil

	case "/clear":
		if err := t.widget.Reset(); err != nil {
			return false, fmt.Errorf("failed to clear conversation: %w", err)
		}
		return false, nil

	case "/transcript":
		for _, msg := range t.widget.Store().Messages() {
			t.printf("%s %s\n", t.styles.dim.Render(msg.Timestamp.Format("15:04:05")), t.format(msg))
		}
		return false, nil

	case "/help":
		t.printf("Available commands:\n")
		t.printf("  /quit, /exit  - Close the chat\n")
		t.printf("  /status       - Check whether the assistant is online now\n")
		t.printf("  /clear        - Start the conversation over\n")
		t.printf("  /transcript   - Show the conversation with timestamps\n")
		t.printf("  /help         - Show this help message\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

// render prints transcript changes. It runs on every store mutation.
func (t *Terminal) render(snap session.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var settled []session.Message
	temp := false
	for _, msg := range snap.Messages {
		if msg.Temporary {
			temp = true
			continue
		}
		settled = append(settled, msg)
	}

	if len(settled) < t.rendered {
		fmt.Fprintf(t.out, "%s\n", t.styles.dim.Render("--- conversation cleared ---"))
		t.rendered = 0
	}
	for _, msg := range settled[t.rendered:] {
		if msg.Sender == session.SenderUser && !t.interactive {
			// interactive terminals already echo what was typed
			fmt.Fprintf(t.out, "%s\n", t.format(msg))
		} else if msg.Sender == session.SenderBot {
			fmt.Fprintf(t.out, "%s\n\n", t.format(msg))
		}
	}
	t.rendered = len(settled)

	if temp && !t.showingTemp {
		for _, msg := range snap.Messages {
			if msg.Temporary {
				fmt.Fprintf(t.out, "%s\n", t.format(msg))
			}
		}
	}
	t.showingTemp = temp
}

func (t *Terminal) renderAvailability(state availability.State) {
	t.printf("\n%s\n", t.badge(state))
	t.prompt()
}

func (t *Terminal) format(msg session.Message) string {
	switch {
	case msg.Temporary:
		return t.styles.bot.Render("Bot:") + " " + t.styles.thinking.Render(msg.Text)
	case msg.Sender == session.SenderUser:
		return t.styles.user.Render("You:") + " " + msg.Text
	default:
		return t.styles.bot.Render("Bot:") + " " + msg.Text
	}
}

func (t *Terminal) badge(state availability.State) string {
	switch state {
	case availability.Online:
		return t.styles.online.Render("● online")
	case availability.Offline:
		return t.styles.offline.Render("● offline")
	default:
		return t.styles.unknown.Render("● status unknown")
	}
}

func (t *Terminal) prompt() {
	if !t.interactive {
		return
	}
	label := "You: "
	if t.widget.Availability() == availability.Offline {
		label = t.badge(availability.Offline) + " You: "
	}
	t.printf("%s", t.styles.user.Render(label))
}

func (t *Terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}
