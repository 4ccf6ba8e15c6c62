package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"groupcast/internal/app"
)

const stopTimeout = 20 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json")
	flag.Parse()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	// No-op outside systemd (NOTIFY_SOCKET unset).
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)

	if reason == app.StopFatalError {
		fmt.Println("fatal:", a.Err())
		os.Exit(1)
	}
	if stopErr != nil {
		fmt.Println("stop:", stopErr)
	}
}
