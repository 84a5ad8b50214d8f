package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"xdao.co/gamex/config"
	"xdao.co/gamex/fetch"
	"xdao.co/gamex/internal/logging"
	"xdao.co/gamex/kubo"
	"xdao.co/gamex/pin"
	"xdao.co/gamex/probe"
	"xdao.co/gamex/upload"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "probe":
		return cmdProbe(args[1:], out, errOut)
	case "get":
		return cmdGet(args[1:], out, errOut)
	case "add":
		return cmdAdd(args[1:], out, errOut)
	case "add-large":
		return cmdAddLarge(args[1:], out, errOut)
	case "add-json":
		return cmdAddJSON(args[1:], out, errOut)
	case "pin":
		return cmdPin(args[1:], out, errOut)
	case "unpin":
		return cmdUnpin(args[1:], out, errOut)
	case "gateway":
		return cmdGateway(args[1:], out, errOut)
	case "ident":
		return cmdIdent(args[1:], out, errOut)
	case "install":
		return cmdInstall(args[1:], out, errOut)
	case "uninstall":
		return cmdUninstall(args[1:], out, errOut)
	case "list":
		return cmdList(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "gamex: publish, fetch and seed game assets through a local IPFS daemon")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  gamex probe <id|url> [--probe-timeout 10s]")
	fmt.Fprintln(w, "  gamex get <id|url> [--out <file>] [--no-probe] [--progress]")
	fmt.Fprintln(w, "  gamex add <file>")
	fmt.Fprintln(w, "  gamex add-large <file> [--progress]")
	fmt.Fprintln(w, "  gamex add-json <file|->")
	fmt.Fprintln(w, "  gamex pin <id> [<id> ...]")
	fmt.Fprintln(w, "  gamex unpin <id> [<id> ...]")
	fmt.Fprintln(w, "  gamex gateway <id|url>")
	fmt.Fprintln(w, "  gamex ident <input>")
	fmt.Fprintln(w, "  gamex install --bundle <bundle.json> [--platform <triple>] [--progress]")
	fmt.Fprintln(w, "  gamex uninstall <bundle-id>")
	fmt.Fprintln(w, "  gamex list")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common flags:")
	fs := newFlagSet("common", w)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - settings also come from gamex.{yaml,json,toml}, .env and GAMEX_* variables")
	fmt.Fprintln(w, "  - add-large shells out to the local Kubo 'ipfs' CLI")
	fmt.Fprintln(w, "  - unpin never fails; failures are reported on stderr")
}

func newFlagSet(name string, errOut io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	config.RegisterFlags(fs)
	return fs
}

// env is everything a subcommand needs, built from the resolved config.
type env struct {
	cfg    config.Config
	log    *logrus.Logger
	client *kubo.Client
	cli    *kubo.CLI
	prober *probe.Prober
	fetch  *fetch.Engine
	upload *upload.Pipeline
	pins   *pin.Manager
}

func setup(fs *pflag.FlagSet, errOut io.Writer) (*env, error) {
	cfg, err := config.Load(config.LoadOptions{Flags: fs})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, errOut)
	if err != nil {
		return nil, err
	}
	client, err := kubo.New(cfg.KuboOptions(log))
	if err != nil {
		return nil, err
	}
	cli := kubo.NewCLI(cfg.CLIOptions())
	prober := probe.New(client)
	return &env{
		cfg:    cfg,
		log:    log,
		client: client,
		cli:    cli,
		prober: prober,
		fetch:  fetch.New(client, fetch.Options{ChunkSize: cfg.ChunkSize, Prober: prober}),
		upload: upload.New(client, cli),
		pins:   pin.New(client),
	}, nil
}
