package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wampd/internal/observability"
	"github.com/danmuck/wampd/internal/router"
	"github.com/danmuck/wampd/internal/wamp"
)

var errUsage = errors.New("usage: wampctl <call|publish|subscribe> [flags] <uri> [args...]")

func main() {
	observability.InitLogger("wampctl")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "wampctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, argv []string, out io.Writer) error {
	if len(argv) == 0 {
		return errUsage
	}
	cmd, rest := argv[0], argv[1:]
	o := defaultOptions()
	fs := flag.NewFlagSet("wampctl "+cmd, flag.ContinueOnError)
	fs.StringVar(&o.url, "url", o.url, "router url: ws://, wss://, tcp://, tls:// or quic://")
	fs.StringVar(&o.realm, "realm", o.realm, "realm to join")
	fs.StringVar(&o.serializer, "serializer", o.serializer, "json or msgpack")
	fs.DurationVar(&o.timeout, "timeout", o.timeout, "dial, join and request timeout")
	fs.StringVar(&o.caFile, "ca", "", "CA bundle for TLS schemes")
	fs.StringVar(&o.certFile, "cert", "", "client certificate for mutual TLS")
	fs.StringVar(&o.keyFile, "key", "", "client key for mutual TLS")
	fs.StringVar(&o.serverName, "server-name", "", "TLS server name override")
	fs.BoolVar(&o.insecure, "insecure", false, "skip TLS verification (development only)")

	switch cmd {
	case "call":
		kw := fs.String("kw", "", "kwargs as a JSON object")
		disclose := fs.Bool("disclose", false, "disclose caller id to the callee")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return runCall(ctx, o, fs.Args(), *kw, *disclose, out)
	case "publish":
		kw := fs.String("kw", "", "kwargs as a JSON object")
		excludeMe := fs.Bool("exclude-me", true, "do not deliver to this session")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return runPublish(ctx, o, fs.Args(), *kw, *excludeMe, out)
	case "subscribe":
		prefix := fs.Bool("prefix", false, "prefix match the topic")
		count := fs.Int("count", 0, "exit after this many events, 0 runs until interrupted")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return runSubscribe(ctx, o, fs.Args(), *prefix, *count, out)
	default:
		return errUsage
	}
}

func runCall(ctx context.Context, o options, args []string, kw string, disclose bool, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	kwargs, err := parseKwArgs(kw)
	if err != nil {
		return err
	}
	s, err := connect(ctx, o)
	if err != nil {
		return err
	}
	defer hangUp(s, o.timeout)

	res, err := s.Call(wamp.URI(args[0]), parseArgs(args[1:]), kwargs, wamp.CallOptions{
		Timeout:    o.timeout,
		DiscloseMe: disclose,
	}).Await(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, render(callOutput(res)))
	return nil
}

func callOutput(res any) interface{} {
	r, ok := res.(router.CallResult)
	if !ok {
		return res
	}
	d := wamp.Dict{}
	if len(r.Args) > 0 {
		d["args"] = r.Args
	}
	if len(r.KwArgs) > 0 {
		d["kwargs"] = r.KwArgs
	}
	return d
}

func runPublish(ctx context.Context, o options, args []string, kw string, excludeMe bool, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	kwargs, err := parseKwArgs(kw)
	if err != nil {
		return err
	}
	s, err := connect(ctx, o)
	if err != nil {
		return err
	}
	defer hangUp(s, o.timeout)

	pub, err := s.Publish(wamp.URI(args[0]), parseArgs(args[1:]), kwargs, wamp.PublishOptions{
		ExcludeMe: wamp.Bool(excludeMe),
	}).Await(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "published %d\n", pub)
	return nil
}

func runSubscribe(ctx context.Context, o options, args []string, prefix bool, count int, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	s, err := connect(ctx, o)
	if err != nil {
		return err
	}
	defer hangUp(s, o.timeout)

	opts := wamp.SubscribeOptions{Match: wamp.MatchExact}
	if prefix {
		opts.Match = wamp.MatchPrefix
	}
	lines := make(chan string, 64)
	quit := make(chan struct{})
	defer close(quit)
	h, err := s.Subscribe(wamp.URI(args[0]), func(ev *wamp.Event) {
		line := wamp.Dict{"publication": uint64(ev.Publication)}
		if topic, ok := wamp.DictString(ev.Details, wamp.DetailTopic); ok {
			line["topic"] = topic
		}
		if len(ev.Args) > 0 {
			line["args"] = ev.Args
		}
		if len(ev.KwArgs) > 0 {
			line["kwargs"] = ev.KwArgs
		}
		select {
		case lines <- render(line):
		case <-quit:
		}
	}, opts).Await(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "subscribed %d %s\n", h.Subscription, h.Topic)

	for n := 0; count == 0 || n < count; n++ {
		select {
		case line := <-lines:
			fmt.Fprintln(out, line)
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return errors.New("router closed the session")
		}
	}
	return nil
}
