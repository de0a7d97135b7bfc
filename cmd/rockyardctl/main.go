// Package main provides rockyardctl, a command-line client that drives a
// database through the rockyardhost request loop.
//
// Usage:
//
//	rockyardctl --db=<path> <command> [args]
//
// Commands:
//
//	get <key>                 Print the value for a key
//	put <key> <value>         Write a key
//	delete <key>              Delete a key
//	scan                      Print the entries in --from/--to
//	count                     Count the entries in --from/--to
//	clear                     Delete the entries in --from/--to
//	approxsize                Estimate on-disk bytes in --from/--to
//	compact                   Compact --from/--to
//	property <name>           Print an engine property
//	destroy                   Remove the database
//	repair                    Rebuild a damaged database
//	shell                     Read commands from stdin, one per line
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/term"

	"github.com/aalhour/rockyardhost"
	"github.com/aalhour/rockyardhost/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// config holds the parsed global flags.
type config struct {
	dbPath          string
	hexOutput       bool
	limit           int
	from, to        string
	reverse         bool
	createIfMissing bool
	compression     string
	logLevel        string
	sync            bool
	lockWait        time.Duration
	workers         int
}

// session is one open Env plus the database it drives.
type session struct {
	cfg    config
	env    *rockyardhost.Env
	db     *rockyardhost.Database
	out    io.Writer
	logger logging.Logger
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	var cfg config
	fs := flag.NewFlagSet("rockyardctl", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&cfg.dbPath, "db", "", "Path to the database (required)")
	fs.BoolVar(&cfg.hexOutput, "hex", false, "Keys and values are hex on input and output")
	fs.IntVar(&cfg.limit, "limit", -1, "Limit number of entries (negative = unlimited)")
	fs.StringVar(&cfg.from, "from", "", "Inclusive start key for range commands")
	fs.StringVar(&cfg.to, "to", "", "Exclusive end key for range commands")
	fs.BoolVar(&cfg.reverse, "reverse", false, "Scan from the end of the range")
	fs.BoolVar(&cfg.createIfMissing, "create_if_missing", false, "Create the database if it doesn't exist")
	fs.StringVar(&cfg.compression, "compression", "snappy", "Table compression for new files")
	fs.StringVar(&cfg.logLevel, "log_level", "warn", "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.sync, "sync", false, "Sync the log on every write")
	fs.DurationVar(&cfg.lockWait, "lock_wait", 0, "Keep retrying a locked database for this long")
	fs.IntVar(&cfg.workers, "workers", 0, "Worker pool size (0 = GOMAXPROCS)")
	fs.Usage = func() { printUsage(fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		printUsage(fs)
		return flag.ErrHelp
	}
	if cfg.dbPath == "" {
		return errors.New("--db flag is required")
	}

	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(errOut, level)
	env := rockyardhost.NewEnv(&rockyardhost.EnvOptions{Workers: cfg.workers, Logger: logger})
	s := &session{cfg: cfg, env: env, out: out, logger: logger}

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	if cmd == "shell" {
		err = s.shell(ctx, in)
	} else {
		err = s.exec(ctx, cmd, cmdArgs)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(err, env.Shutdown(shutdownCtx))
}

func printUsage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintln(w, "rockyardctl - rockyardhost database client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: rockyardctl --db=<path> <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  get <key>           Print the value for a key")
	fmt.Fprintln(w, "  put <key> <value>   Write a key")
	fmt.Fprintln(w, "  delete <key>        Delete a key")
	fmt.Fprintln(w, "  scan                Print the entries in --from/--to")
	fmt.Fprintln(w, "  count               Count the entries in --from/--to")
	fmt.Fprintln(w, "  clear               Delete the entries in --from/--to")
	fmt.Fprintln(w, "  approxsize          Estimate on-disk bytes in --from/--to")
	fmt.Fprintln(w, "  compact             Compact --from/--to")
	fmt.Fprintln(w, "  property <name>     Print an engine property")
	fmt.Fprintln(w, "  destroy             Remove the database")
	fmt.Fprintln(w, "  repair              Rebuild a damaged database")
	fmt.Fprintln(w, "  shell               Read commands from stdin, one per line")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.PrintDefaults()
}

// exec runs one command. Database commands open the database on first use.
func (s *session) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "destroy", "repair":
		if err := expectArgs(cmd, args, 0); err != nil {
			return err
		}
		if err := s.close(); err != nil {
			return err
		}
		return s.withLockRetry(ctx, func() error {
			return s.env.Invoke(func(done func(error)) {
				if cmd == "destroy" {
					s.env.Destroy(s.cfg.dbPath, done)
				} else {
					s.env.Repair(s.cfg.dbPath, done)
				}
			})
		})
	}

	handler, ok := commands[cmd]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmd)
	}
	if err := expectArgs(cmd, args, handler.args); err != nil {
		return err
	}
	keys := make([][]byte, len(args))
	for i, a := range args {
		if handler.raw {
			keys[i] = []byte(a)
			continue
		}
		k, err := s.decode(a)
		if err != nil {
			return err
		}
		keys[i] = k
	}
	if err := s.open(ctx); err != nil {
		return err
	}
	return handler.run(s, keys)
}

type command struct {
	args int
	// raw arguments skip --hex decoding.
	raw bool
	run func(s *session, args [][]byte) error
}

var commands = map[string]command{
	"get": {args: 1, run: func(s *session, args [][]byte) error {
		v, err := rockyardhost.Await(s.env, func(done func([]byte, error)) { s.db.Get(args[0], nil, done) })
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, s.encode(v))
		return nil
	}},
	"put": {args: 2, run: func(s *session, args [][]byte) error {
		return s.env.Invoke(func(done func(error)) { s.db.Put(args[0], args[1], s.writeOptions(), done) })
	}},
	"delete": {args: 1, run: func(s *session, args [][]byte) error {
		return s.env.Invoke(func(done func(error)) { s.db.Delete(args[0], s.writeOptions(), done) })
	}},
	"scan": {run: (*session).scan},
	"count": {run: func(s *session, _ [][]byte) error {
		ro, err := s.rangeOptions()
		if err != nil {
			return err
		}
		n, err := rockyardhost.Await(s.env, func(done func(int, error)) { s.db.Count(ro, done) })
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, n)
		return nil
	}},
	"clear": {run: func(s *session, _ [][]byte) error {
		ro, err := s.rangeOptions()
		if err != nil {
			return err
		}
		return s.env.Invoke(func(done func(error)) { s.db.Clear(ro, s.writeOptions(), done) })
	}},
	"approxsize": {run: func(s *session, _ [][]byte) error {
		start, end, err := s.bounds()
		if err != nil {
			return err
		}
		n, err := rockyardhost.Await(s.env, func(done func(uint64, error)) { s.db.ApproximateSize(start, end, done) })
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, n)
		return nil
	}},
	"compact": {run: func(s *session, _ [][]byte) error {
		start, end, err := s.bounds()
		if err != nil {
			return err
		}
		return s.env.Invoke(func(done func(error)) { s.db.CompactRange(start, end, done) })
	}},
	"property": {args: 1, raw: true, run: func(s *session, args [][]byte) error {
		v, err := rockyardhost.Await(s.env, func(done func(string, error)) { s.db.GetProperty(string(args[0]), done) })
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, v)
		return nil
	}},
}

func expectArgs(cmd string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s takes %d argument(s), got %d", cmd, n, len(args))
	}
	return nil
}

// scan streams the range in batches so large ranges never sit in memory.
func (s *session) scan(_ [][]byte) error {
	ro, err := s.rangeOptions()
	if err != nil {
		return err
	}
	it, err := rockyardhost.Await(s.env, func(done func(*rockyardhost.Iterator, error)) {
		done(s.db.NewIterator(&rockyardhost.IteratorOptions{RangeOptions: *ro}))
	})
	if err != nil {
		return err
	}
	defer s.env.Invoke(it.Close) //nolint:errcheck

	for {
		type batch struct {
			entries  []rockyardhost.Entry
			finished bool
		}
		b, err := rockyardhost.Await(s.env, func(done func(batch, error)) {
			it.NextBatch(256, func(entries []rockyardhost.Entry, finished bool, err error) {
				done(batch{entries, finished}, err)
			})
		})
		if err != nil {
			return err
		}
		for _, e := range b.entries {
			fmt.Fprintf(s.out, "%s ==> %s\n", s.encode(e.Key), s.encode(e.Value))
		}
		if b.finished {
			return nil
		}
	}
}

// open opens the database once per session. With --lock_wait, a database
// held by another process is retried with Fibonacci backoff.
func (s *session) open(ctx context.Context) error {
	if s.db != nil && s.db.IsOpen() {
		return nil
	}
	opts := rockyardhost.DefaultOptions()
	opts.CreateIfMissing = s.cfg.createIfMissing
	opts.Compression = s.cfg.compression
	opts.Logger = s.logger
	return s.withLockRetry(ctx, func() error {
		return s.env.Invoke(func(done func(error)) {
			s.db = s.env.NewDatabase(s.cfg.dbPath)
			s.db.Open(opts, done)
		})
	})
}

func (s *session) close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return s.env.Invoke(db.Close)
}

func (s *session) withLockRetry(ctx context.Context, fn func() error) error {
	if s.cfg.lockWait <= 0 {
		return fn()
	}
	backoff := retry.WithMaxDuration(s.cfg.lockWait, retry.NewFibonacci(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if errors.Is(err, rockyardhost.ErrLocked) {
			s.logger.Infof("%s is locked, retrying", s.cfg.dbPath)
			return retry.RetryableError(err)
		}
		return err
	})
}

// shell runs commands from in until EOF or "quit". Errors are printed and
// the shell keeps going. The prompt is shown only on a terminal.
func (s *session) shell(ctx context.Context, in io.Reader) error {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	sc := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(s.out, "rockyard> ")
		}
		if !sc.Scan() {
			return sc.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if fields[0] == "shell" {
			fmt.Fprintln(s.out, "Error: already in a shell")
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.exec(ctx, fields[0], fields[1:]); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

func (s *session) rangeOptions() (*rockyardhost.RangeOptions, error) {
	from, to, err := s.bounds()
	if err != nil {
		return nil, err
	}
	return &rockyardhost.RangeOptions{Gte: from, Lt: to, Limit: rockyardhost.Limit(s.cfg.limit), Reverse: s.cfg.reverse, FillCache: true}, nil
}

func (s *session) bounds() (from, to []byte, err error) {
	if s.cfg.from != "" {
		if from, err = s.decode(s.cfg.from); err != nil {
			return nil, nil, err
		}
	}
	if s.cfg.to != "" {
		if to, err = s.decode(s.cfg.to); err != nil {
			return nil, nil, err
		}
	}
	return from, to, nil
}

func (s *session) writeOptions() *rockyardhost.WriteOptions {
	return &rockyardhost.WriteOptions{Sync: s.cfg.sync}
}

func (s *session) decode(arg string) ([]byte, error) {
	if !s.cfg.hexOutput {
		return []byte(arg), nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(arg, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %s: %w", strconv.Quote(arg), err)
	}
	return b, nil
}

func (s *session) encode(b []byte) string {
	if s.cfg.hexOutput {
		return "0x" + hex.EncodeToString(b)
	}
	return string(b)
}
