package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hazyhaar/navbridge/navsession"
	"github.com/hazyhaar/navbridge/visit"
)

var errUsage = errors.New("usage: visit <location> [advance|restore|replace] [destination] | reset")

// visitor is the part of the session driven from stdin.
type visitor interface {
	RequestVisit(v navsession.Visit)
	Reset()
}

type command struct {
	reset bool
	visit navsession.Visit
}

func defaultOptions() visit.Options { return visit.DefaultOptions() }

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errUsage
	}
	switch fields[0] {
	case "reset":
		if len(fields) != 1 {
			return command{}, errUsage
		}
		return command{reset: true}, nil
	case "visit":
	default:
		return command{}, fmt.Errorf("unknown command %q: %w", fields[0], errUsage)
	}
	if len(fields) < 2 || len(fields) > 4 {
		return command{}, errUsage
	}

	v := navsession.Visit{Location: fields[1], Options: defaultOptions()}
	if len(fields) > 2 {
		a := visit.Action(fields[2])
		if !a.Valid() {
			return command{}, fmt.Errorf("unknown action %q: %w", fields[2], errUsage)
		}
		v.Options = v.Options.WithAction(a)
	}
	if len(fields) > 3 {
		dest, err := strconv.Atoi(fields[3])
		if err != nil {
			return command{}, fmt.Errorf("destination %q: %w", fields[3], errUsage)
		}
		v.Destination = dest
	}
	return command{visit: v}, nil
}

// readCommands applies commands from r until EOF or ctx is done. Bad lines
// are logged and skipped.
func readCommands(ctx context.Context, r io.Reader, s visitor, logger *slog.Logger) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, err := parseCommand(line)
		if err != nil {
			logger.Warn("navbridge: bad command", "line", line, "error", err)
			continue
		}
		if cmd.reset {
			s.Reset()
			continue
		}
		s.RequestVisit(cmd.visit)
	}
	return sc.Err()
}
