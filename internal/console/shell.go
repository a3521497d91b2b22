package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"schedform/internal/controller"
	"schedform/internal/editor"
	"schedform/internal/notifier"
	"schedform/internal/schedule"
	"schedform/internal/storage"
	logx "schedform/pkg/logx"
)

const (
	prompt       = "schedform> "
	flushTimeout = 2 * time.Second
)

// errQuit ends Run without an error.
var errQuit = errors.New("quit")

type Options struct {
	Controller *controller.Controller
	// Catalog returns the current option lists; nil means the defaults.
	Catalog func() schedule.Catalog
	// History returns recently shown toasts for the "toasts" command.
	History func() []notifier.HistoryItem
	// Audit backs the "audit" command; nil disables it.
	Audit storage.Store
	// Flush, when set, runs before each prompt so queued toasts print
	// ahead of it.
	Flush func(ctx context.Context) error
	Log   logx.Logger
}

// Shell is a line-oriented editor session. Exec may be called from one
// goroutine at a time.
type Shell struct {
	ctrl    *controller.Controller
	catalog func() schedule.Catalog
	history func() []notifier.HistoryItem
	audit   storage.Store
	flush   func(ctx context.Context) error
	log     logx.Logger

	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	editors map[int]*editor.RowEditor
	cmds    []*Command
	byName  map[string]*Command
}

func New(opts Options, in io.Reader, out io.Writer) *Shell {
	if opts.Catalog == nil {
		opts.Catalog = schedule.DefaultCatalog
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	s := &Shell{
		ctrl:    opts.Controller,
		catalog: opts.Catalog,
		history: opts.History,
		audit:   opts.Audit,
		flush:   opts.Flush,
		log:     opts.Log.With(logx.String("comp", "console")),
		in:      in,
		out:     out,
		editors: map[int]*editor.RowEditor{},
		byName:  map[string]*Command{},
	}
	for _, c := range builtinCommands() {
		s.register(c)
	}
	return s
}

func (s *Shell) register(c *Command) {
	s.cmds = append(s.cmds, c)
	s.byName[c.Name] = c
	for _, a := range c.Aliases {
		s.byName[a] = c
	}
}

// Run reads commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
		close(lines)
	}()

	s.printf("%d schedules loaded. Type \"help\" for commands.\n", len(s.ctrl.Snapshot()))
	for {
		s.printf("%s", prompt)
		select {
		case <-ctx.Done():
			s.printf("\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				s.printf("\n")
				return <-readErr
			}
			quit, err := s.Exec(ctx, line)
			s.waitToasts(ctx)
			if err != nil {
				s.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *Shell) waitToasts(ctx context.Context) {
	if s.flush == nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := s.flush(fctx); err != nil {
		s.log.Debug("toasts still pending", logx.Err(err))
	}
}

// Exec runs one command line. quit reports whether the session should end.
func (s *Shell) Exec(ctx context.Context, line string) (quit bool, err error) {
	args := tokenize(line)
	if len(args) == 0 {
		return false, nil
	}
	name := strings.ToLower(args[0])
	c, ok := s.byName[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q (try \"help\")", args[0])
	}
	args = args[1:]
	if len(args) < c.MinArgs {
		return false, fmt.Errorf("usage: %s", c.Usage)
	}
	s.log.Debug("command", logx.String("cmd", c.Name), logx.Int("args", len(args)))
	if err := c.Handle(ctx, s, args); err != nil {
		if errors.Is(err, errQuit) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// editorFor returns the row editor for key, seeding it on first use.
func (s *Shell) editorFor(key int) (*editor.RowEditor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ed, ok := s.editors[key]; ok {
		return ed, nil
	}
	ed, err := editor.New(s.ctrl, key, s.catalog, s.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", controller.ErrNotFound, key)
	}
	s.editors[key] = ed
	return ed, nil
}

// syncEditors drops editors whose row is gone and resyncs the rest; used
// after the collection is replaced wholesale.
func (s *Shell) syncEditors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, ed := range s.editors {
		if err := ed.Resync(); err != nil {
			delete(s.editors, key)
		}
	}
}

func (s *Shell) dropEditor(key int) {
	s.mu.Lock()
	delete(s.editors, key)
	s.mu.Unlock()
}

func (s *Shell) dropAllEditors() {
	s.mu.Lock()
	s.editors = map[int]*editor.RowEditor{}
	s.mu.Unlock()
}

func (s *Shell) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func (s *Shell) commandNames() []string {
	names := make([]string, 0, len(s.cmds))
	for _, c := range s.cmds {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}
