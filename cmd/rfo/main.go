// Command rfo runs file operations against an rfod server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/rfratto/remotefs/internal/cmdutil"
	"github.com/rfratto/remotefs/internal/rfo/client"
	"github.com/rfratto/remotefs/internal/rfo/grpcrfo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type command struct {
	usage string
	args  int
	run   func(ctx context.Context, c *client.Client, stdout io.Writer, args []string) error
}

var commands = map[string]command{
	"cat":   {usage: "cat <remote path>", args: 1, run: runCat},
	"put":   {usage: "put <local path> <remote path>", args: 2, run: runPut},
	"stat":  {usage: "stat <remote path>", args: 1, run: runStat(false)},
	"lstat": {usage: "lstat <remote path>", args: 1, run: runStat(true)},
	"rm":    {usage: "rm <remote path>", args: 1, run: runRm},
	"ls":    {usage: "ls <remote dir>", args: 1, run: runLs},
	"tree":  {usage: "tree <remote path>", args: 1, run: runTree},
}

func main() {
	defaultAddr, err := cmdutil.ServerAddr()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var (
		ll         cmdutil.LogLevel
		serverAddr string
		useGRPC    bool
	)

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Var(&ll, "log.level", "Level to display logs at")
	fs.StringVar(&serverAddr, "server", defaultAddr, "address of the rfod server")
	fs.BoolVar(&useGRPC, "grpc", false, "connect to the rfod gRPC listener instead")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %s\n", err)
		os.Exit(1)
	}

	args := fs.Args()
	if len(args) == 0 {
		usage(fs)
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage(fs)
		os.Exit(2)
	} else if len(args)-1 != cmd.args {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] %s\n", os.Args[0], cmd.usage)
		os.Exit(2)
	}

	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = level.NewFilter(l, ll.FilterOption())
	l = log.With(l, "ts", log.DefaultTimestamp, "caller", log.DefaultCaller)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var group run.Group

	// command worker
	{
		cmdCtx, cmdCancel := context.WithCancel(ctx)

		group.Add(func() error {
			c, closeFn, err := connect(cmdCtx, l, serverAddr, useGRPC)
			if err != nil {
				return err
			}
			defer closeFn()
			return cmd.run(cmdCtx, c, os.Stdout, args[1:])
		}, func(_ error) {
			cmdCancel()
		})
	}

	// signal worker
	{
		sigCtx, sigCancel := context.WithCancel(ctx)

		group.Add(func() error {
			ch := make(chan os.Signal, 2)
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(ch)

			select {
			case sig := <-ch:
				return fmt.Errorf("interrupted by %s", sig)
			case <-sigCtx.Done():
			}
			return nil
		}, func(_ error) {
			sigCancel()
		})
	}

	if err := group.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", args[0], err)
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "usage: %s [flags] <command> [args]\n\ncommands:\n", os.Args[0])

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(fs.Output(), "  %s\n", commands[name].usage)
	}

	fmt.Fprintf(fs.Output(), "\nflags:\n")
	fs.PrintDefaults()
}

// connect creates a client for addr. The returned function closes it.
func connect(ctx context.Context, l log.Logger, addr string, useGRPC bool) (*client.Client, func(), error) {
	if !useGRPC {
		c, err := client.Dial(ctx, l, addr, client.DefaultOptions)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	}

	network, address, err := cmdutil.ParseAddr(addr)
	if err != nil {
		return nil, nil, err
	}
	target := address
	if network == "unix" {
		target = "unix://" + address
	}

	cc, err := grpc.DialContext(ctx, target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	t, err := grpcrfo.Dial(ctx, cc, nil)
	if err != nil {
		_ = cc.Close()
		return nil, nil, fmt.Errorf("opening stream to %s: %w", addr, err)
	}

	o := client.DefaultOptions
	o.Transport = t
	c, err := client.New(l, o)
	if err != nil {
		_ = t.Close()
		_ = cc.Close()
		return nil, nil, err
	}
	return c, func() {
		_ = c.Close()
		_ = cc.Close()
	}, nil
}
