package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedform/internal/schedule"
	logx "schedform/pkg/logx"
)

// Command is one shell command.
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	MinArgs     int
	Handle      func(ctx context.Context, s *Shell, args []string) error
}

func builtinCommands() []*Command {
	return []*Command{
		{Name: "list", Aliases: []string{"ls"}, Usage: "list", Description: "show all schedules", Handle: cmdList},
		{Name: "add", Aliases: []string{"new"}, Usage: "add", Description: "add a blank schedule", Handle: cmdAdd},
		{Name: "rm", Aliases: []string{"remove", "del"}, Usage: "rm <key>", Description: "remove a schedule", MinArgs: 1, Handle: cmdRemove},
		{Name: "start", Usage: "start <key> <YYYY-MM-DD|today>", Description: "set the start date", MinArgs: 2, Handle: dateCmd(schedule.FieldStartDate)},
		{Name: "end", Usage: "end <key> <YYYY-MM-DD|today>", Description: "set the end date", MinArgs: 2, Handle: dateCmd(schedule.FieldEndDate)},
		{Name: "channel", Aliases: []string{"ch"}, Usage: "channel <key> <n|name>", Description: "pick a channel", MinArgs: 2, Handle: optionCmd(schedule.FieldChannel)},
		{Name: "location", Aliases: []string{"loc"}, Usage: "location <key> <n|name>", Description: "pick a location", MinArgs: 2, Handle: optionCmd(schedule.FieldLocation)},
		{Name: "clear", Usage: "clear", Description: "remove every schedule", Handle: cmdClear},
		{Name: "save", Aliases: []string{"w"}, Usage: "save", Description: "save schedules to the server", Handle: cmdSave},
		{Name: "reload", Usage: "reload", Description: "fetch schedules from the server again", Handle: cmdReload},
		{Name: "pending", Usage: "pending", Description: "show keys waiting to be deleted", Handle: cmdPending},
		{Name: "channels", Usage: "channels", Description: "show channel options", Handle: optionsCmd(schedule.FieldChannel)},
		{Name: "locations", Usage: "locations", Description: "show location options", Handle: optionsCmd(schedule.FieldLocation)},
		{Name: "toasts", Usage: "toasts", Description: "show recent notifications", Handle: cmdToasts},
		{Name: "audit", Usage: "audit [n]", Description: "show recent server calls", Handle: cmdAudit},
		{Name: "help", Aliases: []string{"?"}, Usage: "help [command]", Description: "show help", Handle: cmdHelp},
		{Name: "quit", Aliases: []string{"exit", "q"}, Usage: "quit", Description: "leave the shell", Handle: cmdQuit},
	}
}

func cmdList(ctx context.Context, s *Shell, args []string) error {
	renderTable(s.out, s.ctrl.Snapshot())
	pending := s.ctrl.Pending()
	status := "saved"
	if s.ctrl.Dirty() {
		status = "unsaved changes"
	}
	s.printf("%d schedules, %d pending deletion, %s\n", len(s.ctrl.Snapshot()), len(pending), status)
	return nil
}

func cmdAdd(ctx context.Context, s *Shell, args []string) error {
	key := s.ctrl.AddEntry()
	if _, err := s.editorFor(key); err != nil {
		return err
	}
	s.printf("added schedule %d\n", key)
	return nil
}

func cmdRemove(ctx context.Context, s *Shell, args []string) error {
	for _, a := range args {
		key, err := parseKey(a)
		if err != nil {
			return err
		}
		ed, err := s.editorFor(key)
		if err != nil {
			return err
		}
		if err := ed.Remove(); err != nil {
			return err
		}
		s.dropEditor(key)
		s.printf("removed schedule %d\n", key)
	}
	return nil
}

func dateCmd(f schedule.Field) func(ctx context.Context, s *Shell, args []string) error {
	return func(ctx context.Context, s *Shell, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		d, err := parseDateArg(args[1], time.Now())
		if err != nil {
			return err
		}
		ed, err := s.editorFor(key)
		if err != nil {
			return err
		}
		if f == schedule.FieldStartDate {
			err = ed.SetStartDate(&d)
		} else {
			err = ed.SetEndDate(&d)
		}
		if err != nil {
			return err
		}
		if e := ed.Local(); e.StartDate != nil && e.EndDate != nil && e.EndDate.Before(*e.StartDate) {
			s.printf("note: schedule %d ends before it starts\n", key)
		}
		return nil
	}
}

func optionCmd(f schedule.Field) func(ctx context.Context, s *Shell, args []string) error {
	return func(ctx context.Context, s *Shell, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		ed, err := s.editorFor(key)
		if err != nil {
			return err
		}
		in := strings.Join(args[1:], " ")
		if f == schedule.FieldChannel {
			err = ed.SetChannel(in)
		} else {
			err = ed.SetLocation(in)
		}
		if err != nil {
			return fmt.Errorf("%w (see \"%ss\")", err, f)
		}
		return nil
	}
}

func cmdClear(ctx context.Context, s *Shell, args []string) error {
	n := len(s.ctrl.Snapshot())
	s.ctrl.ClearAll()
	s.dropAllEditors()
	s.printf("cleared %d schedules\n", n)
	return nil
}

// cmdSave never reports the save error: the controller already showed it
// as a toast.
func cmdSave(ctx context.Context, s *Shell, args []string) error {
	if err := s.ctrl.Save(ctx); err != nil {
		s.log.Debug("save failed", logx.Err(err))
	}
	return nil
}

func cmdReload(ctx context.Context, s *Shell, args []string) error {
	if err := s.ctrl.Load(ctx); err != nil {
		return errors.New("could not reach the schedule service (see log)")
	}
	s.syncEditors()
	s.printf("%d schedules loaded\n", len(s.ctrl.Snapshot()))
	return nil
}

func cmdPending(ctx context.Context, s *Shell, args []string) error {
	pending := s.ctrl.Pending()
	if len(pending) == 0 {
		s.printf("no deletions pending\n")
		return nil
	}
	parts := make([]string, len(pending))
	for i, k := range pending {
		parts[i] = strconv.Itoa(k)
	}
	s.printf("pending deletion: %s\n", strings.Join(parts, ", "))
	return nil
}

func optionsCmd(f schedule.Field) func(ctx context.Context, s *Shell, args []string) error {
	return func(ctx context.Context, s *Shell, args []string) error {
		for i, o := range s.catalog().Options(f) {
			s.printf("%2d. %s\n", i+1, o)
		}
		return nil
	}
}

func cmdToasts(ctx context.Context, s *Shell, args []string) error {
	if s.history == nil {
		return errors.New("notification history unavailable")
	}
	items := s.history()
	if len(items) == 0 {
		s.printf("no notifications yet\n")
		return nil
	}
	for _, it := range items {
		line := it.At.Format("15:04:05") + " " + string(it.Toast.Variant) + " " + it.Toast.Title
		if it.Toast.Description != "" {
			line += ": " + it.Toast.Description
		}
		s.printf("%s\n", line)
	}
	return nil
}

func cmdAudit(ctx context.Context, s *Shell, args []string) error {
	if s.audit == nil {
		return errors.New("audit log disabled (set storage.driver)")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: audit [n]")
		}
		limit = n
	}
	entries, err := s.audit.ListAudit(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		s.printf("no server calls recorded\n")
		return nil
	}
	renderAudit(s.out, entries)
	return nil
}

func cmdHelp(ctx context.Context, s *Shell, args []string) error {
	if len(args) > 0 {
		c, ok := s.byName[strings.ToLower(args[0])]
		if !ok {
			return fmt.Errorf("unknown command %q", args[0])
		}
		s.printf("%s\n  %s\n", c.Usage, c.Description)
		if len(c.Aliases) > 0 {
			s.printf("  aliases: %s\n", strings.Join(c.Aliases, ", "))
		}
		return nil
	}
	for _, c := range s.cmds {
		s.printf("  %-34s %s\n", c.Usage, c.Description)
	}
	return nil
}

func cmdQuit(ctx context.Context, s *Shell, args []string) error {
	if s.ctrl.Dirty() {
		s.printf("unsaved changes discarded\n")
	}
	return errQuit
}

func parseKey(raw string) (int, error) {
	k, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || k < 0 {
		return 0, fmt.Errorf("invalid key %q", raw)
	}
	return k, nil
}

func parseDateArg(raw string, now time.Time) (schedule.Date, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "today":
		return schedule.DateOf(now), nil
	case "tomorrow":
		return schedule.DateOf(now.AddDate(0, 0, 1)), nil
	}
	return schedule.ParseDate(raw)
}
