package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"xdao.co/gamex/config"
	"xdao.co/gamex/distgrpc"
	"xdao.co/gamex/fetch"
	"xdao.co/gamex/internal/logging"
	"xdao.co/gamex/kubo"
	"xdao.co/gamex/pin"
	"xdao.co/gamex/probe"
	"xdao.co/gamex/upload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr, nil))
}

// run serves until ctx is done or the managed daemon exits. onListen, when
// set, receives the bound address.
func run(ctx context.Context, args []string, errOut io.Writer, onListen func(net.Addr)) int {
	fs := pflag.NewFlagSet("gamex-distd", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	config.RegisterFlags(fs)
	managed := fs.Bool("managed-daemon", false, "spawn and supervise a local ipfs daemon")
	readyTimeout := fs.Duration("ready-timeout", 60*time.Second, "how long to wait for the managed daemon's API")
	grace := fs.Duration("shutdown-grace", 5*time.Second, "how long in-flight calls may run after a shutdown request")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(config.LoadOptions{Flags: fs})
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	client, err := kubo.New(cfg.KuboOptions(log))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	cli := kubo.NewCLI(cfg.CLIOptions())

	var daemonDone <-chan struct{}
	if *managed {
		d := kubo.NewDaemon(kubo.DaemonOptions{
			CLI:          cli,
			Client:       client,
			AllowOrigins: cfg.AllowOrigins,
			ReadyTimeout: *readyTimeout,
			Logger:       log,
		})
		if err := d.Start(ctx); err != nil {
			log.WithError(err).Error("managed daemon failed to start")
			return 1
		}
		defer func() { _ = d.Stop() }()
		daemonDone = d.Done()
	}

	lis, err := net.Listen("tcp", cfg.GRPCListen)
	if err != nil {
		log.WithError(err).Error("listen failed")
		return 1
	}
	defer lis.Close()

	prober := probe.New(client)
	srv := distgrpc.NewGRPCServer(&distgrpc.Server{
		Prober:         prober,
		Fetch:          fetch.New(client, fetch.Options{ChunkSize: cfg.ChunkSize, Prober: prober}),
		Upload:         upload.New(client, cli),
		Pins:           pin.New(client),
		ProbeBudget:    cfg.ProbeTimeout,
		DownloadBudget: cfg.DownloadTimeout,
		Logger:         log,
	})

	log.WithField("addr", lis.Addr().String()).WithField("api", client.APIURL()).Info("gamex-distd listening")
	if onListen != nil {
		onListen(lis.Addr())
	}

	serveErr := make(chan error, 1)
	var wg conc.WaitGroup
	wg.Go(func() { serveErr <- srv.Serve(lis) })

	code := 0
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-daemonDone:
		log.Error("managed ipfs daemon exited")
		code = 1
	case err := <-serveErr:
		log.WithError(err).Error("grpc server stopped")
		code = 1
	}
	stopServer(srv, *grace, log)
	wg.Wait()
	return code
}

// stopServer lets in-flight calls finish for up to grace, then closes every
// connection. Transfers without a download budget never finish on their own.
func stopServer(srv *grpc.Server, grace time.Duration, log logrus.FieldLogger) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grace):
		log.WithField("grace", grace).Warn("in-flight calls still running, stopping server")
		srv.Stop()
		<-stopped
	}
}
