package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AmatsuZero/Common/dispatch"
	"github.com/AmatsuZero/Common/ws"
)

var (
	target  = flag.String("url", "ws://localhost:9001/ws", "websocket url to connect to")
	port    = flag.Int("port", 0, "port to use instead of the one in url")
	timeout = flag.Duration("timeout", ws.DefaultTimeout, "connect timeout")
	verbose = flag.Bool("v", false, "log debug events")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	d := dispatch.New(dispatch.Config{Logger: log})
	c := &ws.Client{
		Dispatcher: d,
		Timeout:    *timeout,
		Logger:     log,
	}
	if err := c.Connect(context.Background(), *target, *port); err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		s := bufio.NewScanner(os.Stdin)
		for s.Scan() {
			lines <- s.Text()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := c.Send([]byte(line)); err != nil {
				log.Warn("send failed", "error", err)
			}

		case <-tick.C:
			for msg := c.Receive(); msg != nil; msg = c.Receive() {
				fmt.Printf("%s\n", msg)
			}
			if c.State() == ws.StateDisconnected {
				log.Info("disconnected", "error", c.Err())
				d.Wait()
				return
			}

		case s := <-sig:
			log.Info("signal received; closing", "signal", s.String())
			c.Close()
			d.Wait()
			return
		}
	}
}
