package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"xdao.co/gamex/fetch"
	"xdao.co/gamex/ident"
	"xdao.co/gamex/install"
	"xdao.co/gamex/kubo"
	"xdao.co/gamex/pin"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// progressLine renders transfer progress on one terminal line.
func progressLine(w io.Writer) func(fetch.Progress) {
	return func(p fetch.Progress) {
		if p.Total == 0 {
			fmt.Fprintf(w, "\r%s", humanize.Bytes(p.Loaded))
			return
		}
		fmt.Fprintf(w, "\r%s / %s (%.0f%%)", humanize.Bytes(p.Loaded), humanize.Bytes(p.Total), p.Fraction()*100)
	}
}

func cmdProbe(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("probe", errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: gamex probe [flags] <id|url>")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	id, ok := ident.Extract(fs.Arg(0))
	if !ok {
		fmt.Fprintln(errOut, "no content identifier in input")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	v := e.prober.Verdict(ctx, id, e.cfg.ProbeTimeout)
	if !v.Available {
		_, _ = fmt.Fprintf(out, "%s\tunavailable\n", v.Identifier)
		return 1
	}
	_, _ = fmt.Fprintf(out, "%s\tavailable\n", v.Identifier)
	return 0
}

func cmdGet(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("get", errOut)
	outPath := fs.String("out", "", "output file (default stdout)")
	noProbe := fs.Bool("no-probe", false, "skip the availability probe")
	progress := fs.Bool("progress", false, "report progress on stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: gamex get [flags] <id|url>")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	w := out
	var f *os.File
	if *outPath != "" {
		f, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(errOut, "create %s: %v\n", *outPath, err)
			return 1
		}
		w = f
	}

	var onProgress func(fetch.Progress)
	if *progress {
		onProgress = progressLine(errOut)
	}
	sink := fetch.ToWriter(w, onProgress)

	ctx, cancel := signalContext()
	defer cancel()

	input := fs.Arg(0)
	budget := e.cfg.DownloadTimeout
	id, ok := ident.Extract(input)
	switch {
	case !ok:
		err = e.fetch.StreamURL(ctx, input, sink, budget)
	case *noProbe:
		err = e.fetch.Stream(ctx, id, sink, budget)
	default:
		err = e.fetch.StreamChecked(ctx, id, sink, e.cfg.ProbeTimeout, budget)
	}
	if *progress {
		fmt.Fprintln(errOut)
	}
	if f != nil {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(*outPath)
		}
	}

	switch {
	case err == nil:
		return 0
	case kubo.IsNotAvailable(err):
		fmt.Fprintf(errOut, "%s is not available: no provider answered within %s\n", id, e.cfg.ProbeTimeout)
	case kubo.IsTimeout(err):
		fmt.Fprintf(errOut, "download timed out after %s\n", budget)
	default:
		fmt.Fprintln(errOut, err)
	}
	return 1
}

func cmdAdd(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("add", errOut)
	name := fs.String("name", "", "name recorded by the daemon (default file name)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: gamex add [flags] <file>")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	p := fs.Arg(0)
	b, err := os.ReadFile(p)
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", p, err)
		return 1
	}
	n := *name
	if n == "" {
		n = filepath.Base(p)
	}

	ctx, cancel := signalContext()
	defer cancel()
	res, err := e.upload.Small(ctx, b, n)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	printResult(out, e, res.Identifier, res.Name, res.Size)
	return 0
}

func cmdAddLarge(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("add-large", errOut)
	progress := fs.Bool("progress", false, "report progress on stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: gamex add-large [flags] <file>")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	p := fs.Arg(0)
	st, err := os.Stat(p)
	if err != nil {
		fmt.Fprintf(errOut, "stat %s: %v\n", p, err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	var onProgress func(loaded, total uint64)
	if *progress {
		line := progressLine(errOut)
		onProgress = func(loaded, total uint64) {
			line(fetch.Progress{Loaded: loaded, Total: total})
			fmt.Fprintln(errOut)
		}
	}
	res, err := e.upload.Large(ctx, p, "", uint64(st.Size()), onProgress)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	printResult(out, e, res.Identifier, res.Name, res.Size)
	return 0
}

func cmdAddJSON(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("add-json", errOut)
	name := fs.String("name", "metadata.json", "name recorded by the daemon")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: gamex add-json [flags] <file|->")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	var r io.Reader = os.Stdin
	if p := fs.Arg(0); p != "-" {
		f, err := os.Open(p)
		if err != nil {
			fmt.Fprintf(errOut, "open %s: %v\n", p, err)
			return 1
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		fmt.Fprintf(errOut, "decode json: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	res, err := e.upload.JSON(ctx, doc, *name)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	printResult(out, e, res.Identifier, res.Name, res.Size)
	return 0
}

func printResult(out io.Writer, e *env, id, name string, size uint64) {
	link, _ := e.client.GatewayURL(id)
	_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", id, name, humanize.Bytes(size), link)
}

func cmdPin(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("pin", errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: gamex pin [flags] <id> [<id> ...]")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	results := e.pins.PinMany(ctx, fs.Args())
	for _, r := range results {
		if r.OK() {
			_, _ = fmt.Fprintf(out, "pinned %s\n", r.Identifier)
		} else {
			fmt.Fprintf(errOut, "pin %s: %v\n", r.Identifier, r.Err)
		}
	}
	if len(pin.Failed(results)) > 0 {
		return 1
	}
	return 0
}

func cmdUnpin(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("unpin", errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: gamex unpin [flags] <id> [<id> ...]")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()
	for _, r := range e.pins.UnpinMany(ctx, fs.Args()) {
		if r.OK() {
			_, _ = fmt.Fprintf(out, "unpinned %s\n", r.Identifier)
		} else {
			fmt.Fprintf(errOut, "unpin %s: %v (ignored)\n", r.Identifier, r.Err)
		}
	}
	return 0
}

func cmdGateway(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("gateway", errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: gamex gateway [flags] <id|url>")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	id, ok := ident.Extract(fs.Arg(0))
	if !ok {
		fmt.Fprintln(errOut, "no content identifier in input")
		return 1
	}
	link, err := e.client.GatewayURL(id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = fmt.Fprintln(out, link)
	return 0
}

// cmdIdent needs no daemon.
func cmdIdent(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: gamex ident <input>")
		return 2
	}
	id, ok := ident.Extract(args[0])
	if !ok {
		fmt.Fprintln(errOut, "no content identifier in input")
		return 1
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "identifier\t%s\n", id)
	fmt.Fprintf(tw, "matcher\t%s\n", ident.MatchedBy(args[0]))
	fmt.Fprintf(tw, "uri\t%s\n", ident.URI(id))
	if c, err := ident.Decode(id); err != nil {
		fmt.Fprintf(tw, "decode\t%v\n", err)
	} else {
		fmt.Fprintf(tw, "version\t%d\n", c.Version())
		fmt.Fprintf(tw, "codec\t0x%x\n", c.Type())
	}
	_ = tw.Flush()
	return 0
}

func cmdInstall(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("install", errOut)
	bundlePath := fs.String("bundle", "", "bundle description (JSON: id, executables[platform,url])")
	triple := fs.String("platform", "", "target triple override")
	progress := fs.Bool("progress", false, "report progress on stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *bundlePath == "" || fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: gamex install [flags] --bundle <bundle.json>")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	raw, err := os.ReadFile(*bundlePath)
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", *bundlePath, err)
		return 1
	}
	var b install.Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		fmt.Fprintf(errOut, "decode %s: %v\n", *bundlePath, err)
		return 1
	}

	in, err := e.installer(*triple)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	var onProgress func(fetch.Progress)
	if *progress {
		onProgress = progressLine(errOut)
	}

	ctx, cancel := signalContext()
	defer cancel()
	rec, err := in.Install(ctx, b, onProgress)
	if *progress {
		fmt.Fprintln(errOut)
	}
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = fmt.Fprintln(out, in.Path(rec))
	return 0
}

func cmdUninstall(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("uninstall", errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: gamex uninstall [flags] <bundle-id>")
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	in, err := e.installer("")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := in.Uninstall(ctx, fs.Arg(0)); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = fmt.Fprintf(out, "uninstalled %s\n", fs.Arg(0))
	return 0
}

func cmdList(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("list", errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, err := setup(fs, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	in, err := e.installer("")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	recs, err := in.List()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUNDLE\tPLATFORM\tSIZE\tIDENTIFIER\tINSTALLED")
	for _, r := range recs {
		id := r.Identifier
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.BundleID, r.Platform, humanize.Bytes(r.Size), id, r.InstalledAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
	return 0
}

func (e *env) installer(triple string) (*install.Installer, error) {
	return install.New(install.Options{
		Dir:            e.cfg.InstallDir,
		Platform:       triple,
		Fetch:          e.fetch,
		Prober:         e.prober,
		Pins:           e.pins,
		ProbeBudget:    e.cfg.ProbeTimeout,
		DownloadBudget: e.cfg.DownloadTimeout,
		Logger:         e.log,
	})
}
