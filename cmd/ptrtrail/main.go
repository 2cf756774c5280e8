package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"ptrtrail/catalogue"
	"ptrtrail/hexdump"
	"ptrtrail/pointerpath"
	"ptrtrail/process"
	"ptrtrail/process_blob"
	"ptrtrail/search"
	"ptrtrail/session"
	"ptrtrail/validate"

	"github.com/samber/lo"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

var commands = map[string]func(ctx context.Context, args []string) error{
	"find":      cmdFind,
	"resolve":   cmdResolve,
	"watch":     cmdWatch,
	"stability": cmdStability,
	"peek":      cmdPeek,
	"save":      cmdSave,
	"list":      cmdList,
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ptrtrail <command> [flags]")
	names := lo.Keys(commands)
	sort.Strings(names)
	fmt.Fprintln(os.Stderr, "commands:", strings.Join(names, ", "))
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmd(ctx, os.Args[2:]); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// target holds the flags shared by every command that reads a process
type target struct {
	pid         int
	name        string
	from        string
	pointerSize int
}

func (t *target) register(fs *flag.FlagSet) {
	fs.IntVar(&t.pid, "pid", 0, "Process ID to attach to")
	fs.StringVar(&t.name, "name", "", "Process name to attach to")
	fs.StringVar(&t.from, "from", "", "Directory containing a saved dump")
	fs.IntVar(&t.pointerSize, "ptr", 0, "Pointer size in bytes (4 or 8, default host)")
}

// attach opens the selected target in a new session
func (t *target) attach(options ...session.Option) (*session.Session, error) {
	options = append([]session.Option{session.WithPointerSize(t.pointerSize)}, options...)
	s := session.New(openProcess, options...)

	if t.from != "" {
		dump := process_blob.NewProcessDump()
		if err := dump.Load(t.from); err != nil {
			return nil, err
		}
		s.Use(dump)
		return s, nil
	}

	pid := t.pid
	if pid == 0 && t.name != "" {
		found, err := findPID(t.name)
		if err != nil {
			return nil, err
		}
		pid = found
	}
	if pid == 0 {
		return nil, fmt.Errorf("one of -pid, -name or -from is required")
	}

	if err := s.Attach(process.ProcessID(pid)); err != nil {
		return nil, err
	}
	return s, nil
}

// findPID returns the first process whose name matches, ignoring case and ".exe"
func findPID(name string) (int, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	want := catalogue.Key(name)
	for _, p := range procs {
		n, err := p.Name()
		if err == nil && catalogue.Key(n) == want {
			return int(p.Pid), nil
		}
	}
	return 0, fmt.Errorf("no process named %q", name)
}

// pathOrRecipe parses raw, or looks up the recipe for the attached process
func pathOrRecipe(s *session.Session, raw, catalogueFile string) (pointerpath.PointerPath, error) {
	if raw != "" {
		return pointerpath.Parse(raw)
	}

	proc, err := s.Process()
	if err != nil {
		return pointerpath.PointerPath{}, err
	}
	c, err := catalogue.Open(catalogueFile)
	if err != nil {
		return pointerpath.PointerPath{}, err
	}
	p, ok := c.Lookup(proc.Name())
	if !ok {
		return pointerpath.PointerPath{}, fmt.Errorf("no -path given and no recipe for %q in %s", proc.Name(), c.Filename())
	}
	return p, nil
}

func parseAddress(s string) (process.ProcessMemoryAddress, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse address: %w", err)
	}
	return process.ProcessMemoryAddress(v), nil
}

func printResult(i int, r validate.Result) {
	status := "ok"
	if !r.Valid {
		status = r.Error
	}
	fmt.Printf("%3d. [%3d] %s -> %s %q (%s, %v)\n", i+1, r.Score, r.Path, r.Address.ToString(), r.Text, status, r.ResponseTime.Round(time.Microsecond))
}

func cmdFind(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	var t target
	t.register(fs)
	text := fs.String("text", "", "Text currently shown by the target")
	expected := fs.String("expected", "", "Text to score candidates against (default -text)")
	module := fs.String("module", "", "Module to scan (default main module)")
	depth := fs.Int("depth", 4, "Maximum pointer hops")
	maxOffset := fs.Int("max-offset", 0, "Accept pointers up to this many bytes below a target")
	top := fs.Int("top", 10, "Number of results to show")
	save := fs.Bool("save", false, "Store the best path in the catalogue")
	force := fs.Bool("force", false, "Store the best path even if it is external")
	catalogueFile := fs.String("catalogue", catalogue.DefaultFilename, "Catalogue file")
	fs.Parse(args)

	if *text == "" {
		return fmt.Errorf("-text is required")
	}

	progress := make(chan search.Progress, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			fmt.Fprintf(os.Stderr, "\rdepth %d  %d/%d slots  %d paths ", p.Depth, p.Slot, p.Slots, p.Found)
		}
	}()

	s, err := t.attach(session.WithSearchOptions(
		search.WithMaxDepth(*depth),
		search.WithMaxOffset(*maxOffset),
		search.WithProgress(progress),
	))
	if err != nil {
		close(progress)
		return err
	}
	defer s.Release()

	report, err := s.FindPaths(ctx, session.FindRequest{Text: *text, Expected: *expected, Module: *module, Limit: *top})
	close(progress)
	<-done
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	fmt.Printf("Scanned %s: %d text locations, %d candidate paths\n", report.Module, len(report.Targets), report.Candidates)
	for i, r := range report.Results {
		printResult(i, r)
	}

	best, ok := report.Best()
	if !ok {
		fmt.Println("No valid path found")
		return nil
	}
	if !*save {
		return nil
	}

	proc, err := s.Process()
	if err != nil {
		return err
	}
	c, err := catalogue.Open(*catalogueFile)
	if err != nil {
		return err
	}
	if err := c.Save(catalogue.Recipe{ProcessName: proc.Name(), Path: best.Path}, *force); err != nil {
		return err
	}
	fmt.Printf("Saved %s for %s in %s\n", best.Path, proc.Name(), c.Filename())
	return nil
}

func cmdResolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	var t target
	t.register(fs)
	raw := fs.String("path", "", `Pointer path, e.g. "game.exe"+1A2B3C, 40, 1F8 (default catalogue recipe)`)
	catalogueFile := fs.String("catalogue", catalogue.DefaultFilename, "Catalogue file")
	fs.Parse(args)

	s, err := t.attach()
	if err != nil {
		return err
	}
	defer s.Release()

	path, err := pathOrRecipe(s, *raw, *catalogueFile)
	if err != nil {
		return err
	}

	hops, ok := s.Trace(path)
	for i, h := range hops {
		fmt.Printf("  hop %d: %s\n", i, h.ToString())
	}
	if !ok {
		fmt.Printf("%s does not resolve\n", path)
		return nil
	}

	addr := hops[len(hops)-1]
	fmt.Printf("%s -> %s %q\n", path, addr.ToString(), s.ReadString(addr))
	return nil
}

func cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var t target
	t.register(fs)
	raw := fs.String("path", "", "Pointer path (default catalogue recipe)")
	addr := fs.String("addr", "", "Watch a raw hex address instead of a path")
	interval := fs.Duration("interval", 500*time.Millisecond, "Polling interval")
	catalogueFile := fs.String("catalogue", catalogue.DefaultFilename, "Catalogue file")
	fs.Parse(args)

	s, err := t.attach()
	if err != nil {
		return err
	}
	defer s.Release()

	emit := func(u session.Update) {
		fmt.Printf("%s %s %s\n", u.Time.Format("15:04:05.000"), u.Address.ToString(), u.Text)
	}

	if *addr != "" {
		a, err := parseAddress(*addr)
		if err != nil {
			return err
		}
		err = s.WatchAddress(ctx, a, *interval, emit)
		return ignoreCancel(err)
	}

	path, err := pathOrRecipe(s, *raw, *catalogueFile)
	if err != nil {
		return err
	}
	fmt.Printf("Watching %s\n", path)
	return ignoreCancel(s.Watch(ctx, path, *interval, emit))
}

func cmdStability(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stability", flag.ExitOnError)
	var t target
	t.register(fs)
	raw := fs.String("path", "", "Pointer path (default catalogue recipe)")
	duration := fs.Duration("duration", 30*time.Second, "Test duration")
	interval := fs.Duration("interval", time.Second, "Sampling interval")
	catalogueFile := fs.String("catalogue", catalogue.DefaultFilename, "Catalogue file")
	fs.Parse(args)

	s, err := t.attach()
	if err != nil {
		return err
	}
	defer s.Release()

	path, err := pathOrRecipe(s, *raw, *catalogueFile)
	if err != nil {
		return err
	}

	report, err := s.Stability(ctx, path, *duration, *interval)
	fmt.Println(report)
	return ignoreCancel(err)
}

func cmdPeek(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("peek", flag.ExitOnError)
	var t target
	t.register(fs)
	raw := fs.String("path", "", "Pointer path to dump at")
	addr := fs.String("addr", "", "Hex address to dump at")
	size := fs.Int("size", 256, "Number of bytes to dump")
	fs.Parse(args)

	s, err := t.attach()
	if err != nil {
		return err
	}
	defer s.Release()

	var at process.ProcessMemoryAddress
	switch {
	case *addr != "":
		if at, err = parseAddress(*addr); err != nil {
			return err
		}
	case *raw != "":
		path, err := pointerpath.Parse(*raw)
		if err != nil {
			return err
		}
		var ok bool
		if at, ok = s.Resolve(path); !ok {
			return fmt.Errorf("%s does not resolve", path)
		}
	default:
		return fmt.Errorf("one of -addr or -path is required")
	}

	data := s.Read(at, process.ProcessMemorySize(*size))
	if data == nil {
		return fmt.Errorf("%s is not readable", at.ToString())
	}

	proc, err := s.Process()
	if err != nil {
		return err
	}
	options := hexdump.DefaultOptions()
	options.Modules, _ = proc.Modules()
	options.MemoryMap, _ = proc.GetMemoryMap()
	if t.pointerSize != 0 {
		options.PointerSize = t.pointerSize
	}
	hexdump.DumpToWriter(os.Stdout, at, data, options)
	return nil
}

func cmdSave(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	var t target
	t.register(fs)
	output := fs.String("output", "", "Output directory for the dump")
	all := fs.Bool("all", false, "Save every readable region instead of the main module")
	fs.Parse(args)

	if *output == "" {
		return fmt.Errorf("-output is required")
	}

	s, err := t.attach()
	if err != nil {
		return err
	}
	defer s.Release()

	proc, err := s.Process()
	if err != nil {
		return err
	}
	filter, err := regionFilter(proc, *all)
	if err != nil {
		return err
	}
	return process_blob.Save(proc, *output, filter)
}

// regionFilter selects the main module's regions, or every readable region
func regionFilter(proc process.Process, all bool) (process_blob.RegionFilter, error) {
	if all {
		return process_blob.ReadableRegions, nil
	}
	modules, err := proc.Modules()
	if err != nil {
		return nil, err
	}
	m, ok := session.MainModule(proc, modules)
	if !ok {
		return nil, fmt.Errorf("%s has no modules", proc.Name())
	}
	return process_blob.ModuleRegions(m), nil
}

func cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	filter := fs.String("filter", "", "Only show processes whose name contains this")
	fs.Parse(args)

	procs, err := gopsprocess.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if *filter != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(*filter)) {
			continue
		}
		fmt.Printf("%8d  %s\n", p.Pid, name)
	}
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
