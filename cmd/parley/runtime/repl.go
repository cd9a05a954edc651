package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/history"
	"github.com/harunnryd/parley/internal/session"

	"github.com/google/shlex"
)

const helpText = `Commands:
  /start [scenario]  start a session (restarts a running one)
  /stop              end the session
  /interrupt         cut the prospect off
  /status            show session state
  /history           show the full transcript
  /scenarios         list scenarios
  /exit              quit
Anything else is sent to the prospect.`

// REPL is the interactive front end of a session controller. It prints
// transcript entries as they settle and reads commands from its input.
type REPL struct {
	components *RuntimeComponents
	in         io.Reader
	out        *syncWriter
	render     *Renderer
	scenario   string

	mu      sync.Mutex
	printed map[string]bool
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) println(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, text)
}

func NewREPL(components *RuntimeComponents, in io.Reader, out io.Writer, scenarioID string) *REPL {
	return &REPL{
		components: components,
		in:         in,
		out:        &syncWriter{w: out},
		render:     NewRenderer(),
		scenario:   scenarioID,
		printed:    make(map[string]bool),
	}
}

// Start opens the first session and runs until /exit, end of input or
// cancellation of the components' context.
func (r *REPL) Start() error {
	ctx := r.components.Ctx

	snapshots, unsubscribe := r.components.Controller.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.watch(ctx, snapshots)
	}()

	r.out.println("Parley interactive session. Type /help for commands.")
	if err := r.startSession(ctx, r.scenario); err != nil {
		r.out.println(r.render.Notice(noticeFor(err)))
	}

	r.loop(ctx)

	if err := r.components.Controller.Stop(); err != nil {
		slog.Warn("Failed to stop session", "error", err)
	}
	unsubscribe()
	wg.Wait()
	return nil
}

func (r *REPL) loop(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := r.Execute(ctx, line)
			if err != nil {
				r.out.println(r.render.Notice(noticeFor(err)))
			}
			if quit {
				return
			}
		}
	}
}

// Execute handles one input line. It reports whether the REPL should quit.
func (r *REPL) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	if !strings.HasPrefix(line, "/") {
		return false, r.components.Controller.SendText(line)
	}

	parts, parseErr := shlex.Split(line)
	if parseErr != nil {
		parts = strings.Fields(line)
	}
	if len(parts) == 0 {
		return false, nil
	}
	cmd, args := parts[0], parts[1:]
	slog.Debug("Executing slash command", "cmd", cmd)

	ctrl := r.components.Controller
	switch cmd {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		r.out.println(helpText)
	case "/start":
		id := r.scenario
		if len(args) > 0 {
			id = args[0]
		}
		return false, r.startSession(ctx, id)
	case "/stop":
		return false, ctrl.Stop()
	case "/interrupt":
		return false, ctrl.Interrupt()
	case "/status":
		r.out.println(r.render.Status(ctrl.Snapshot()))
	case "/history":
		r.out.println(r.render.History(history.Conversation(ctrl.Snapshot().History)))
	case "/scenarios":
		r.out.println(r.render.Scenarios(r.components.Catalog.List()))
	default:
		return false, parleyErrors.InvalidInput(fmt.Sprintf("unknown command %s (try /help)", cmd))
	}
	return false, nil
}

func (r *REPL) startSession(ctx context.Context, scenarioID string) error {
	r.mu.Lock()
	clear(r.printed)
	r.mu.Unlock()

	if err := r.components.Controller.Start(ctx, session.Options{Scenario: scenarioID}); err != nil {
		return err
	}
	if scenarioID != "" {
		r.scenario = scenarioID
	}
	return nil
}

// watch prints new transcript entries and notices until the subscription
// ends. The newest assistant entry is held back while the prospect is
// still speaking.
func (r *REPL) watch(ctx context.Context, snapshots <-chan session.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-r.components.Notices:
			r.out.println(r.render.Notice(n))
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			r.printSettled(snap)
		}
	}
}

func (r *REPL) printSettled(snap session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := len(snap.History) - 1
	for i, e := range snap.History {
		if r.printed[e.ID] {
			continue
		}
		if e.Role == history.RoleUser && e.Kind != history.KindAudio {
			// typed, already on screen
			r.printed[e.ID] = true
			continue
		}
		if i == last && e.Role == history.RoleAssistant && snap.IsSpeaking {
			continue
		}
		r.printed[e.ID] = true
		r.out.println(r.render.Entry(e))
	}
}

func noticeFor(err error) session.Notice {
	level := session.NoticeError
	if errors.Is(err, parleyErrors.ErrNotActive) || errors.Is(err, parleyErrors.ErrInvalidInput) {
		level = session.NoticeWarning
	}
	return session.Notice{Level: level, Message: err.Error(), Err: err}
}
