// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gitlab.com/postmarketOS/gnssctl/internal/config"
	"gitlab.com/postmarketOS/gnssctl/internal/control"
	"gitlab.com/postmarketOS/gnssctl/internal/gnss"
	"gitlab.com/postmarketOS/gnssctl/internal/logger"
)

var version = "dev"

func main() {
	var opts control.Options

	flag.BoolVar(&opts.ToBinary, "b", false, "Switch the device to its native binary mode.")
	flag.BoolVar(&opts.ToNMEA, "n", false, "Switch the device to NMEA mode.")
	flag.BoolVar(&opts.Reset, "r", false, "Force the device back to 4800 8N1 NMEA. Needs -t and a device.")
	flag.BoolVar(&opts.Echo, "e", false, "Write control output to stdout instead of the device.")
	flag.BoolVar(&opts.Direct, "f", false, "Force direct access to the device, bypassing the daemon.")
	flag.StringVar(&opts.Rate, "c", "", "Change the fix cycle, in seconds.")
	flag.StringVar(&opts.Speed, "s", "", "Change the device speed, as rate[:WPS] (e.g. 9600:8N1).")
	flag.StringVar(&opts.Type, "t", "", "Force the device type, by a fragment of its driver name.")
	flag.StringVar(&opts.Control, "x", "", "Send a control string. C-style and \\xHH escapes are decoded.")
	var confFile string
	flag.StringVar(&confFile, "C", config.DefaultPath, "Configuration file to use.")
	var debug int
	flag.IntVar(&debug, "D", 0, "Debug verbosity.")
	var timeout int
	flag.IntVar(&timeout, "T", 0, "Packet recognition timeout, in seconds. 0 waits without a deadline.")
	var list bool
	flag.BoolVar(&list, "l", false, "List known device types and the options they support, and quit.")
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version.")
	var help bool
	flag.BoolVar(&help, "h", false, "Print help and quit.")

	flag.Usage = func() {
		fmt.Println("usage: gnssctl [-l] [-b | -n | -r] [-D n] [-s speed] [-c rate] [-T timeout] [-V] [-t devtype] [-x control] [-e] [-f] [device]")
		fmt.Println("Options:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if help {
		flag.Usage()
		return
	}
	if list {
		gnss.Default.List(os.Stdout)
		return
	}
	if showVersion {
		fmt.Fprintf(os.Stderr, "version %s\n", version)
	}

	conf, err := config.Parse(confFile)
	if err != nil {
		log.Fatal(err)
	}

	// flags win over the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "D":
			conf.Debug = debug
		case "T":
			conf.Timeout = timeout
		}
	})

	if conf.Timeout < 0 {
		log.Fatalf("invalid timeout %d", conf.Timeout)
	}

	opts.Device = flag.Arg(0)
	if opts.Device == "" {
		opts.Device = conf.DevicePath
	}
	opts.Timeout = conf.RecognitionTimeout()
	opts.DaemonAddr = conf.DaemonAddr()
	opts.Baud = conf.BaudRate

	logr := logger.Stderr(conf.Debug, conf.LogFile)
	defer logr.Sync()

	os.Exit(run(opts, logr))
}

func run(opts control.Options, logr *zap.Logger) int {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)
	go func() {
		if sig, ok := <-sigChan; ok {
			cancel(&control.Interrupted{Signal: sig})
		}
	}()

	start := time.Now()
	status, err := control.New(opts, logr).Exec(ctx)
	var interrupted *control.Interrupted
	switch {
	case errors.As(err, &interrupted):
		logr.Info("killed by signal", zap.Stringer("signal", interrupted.Signal))
	case err != nil:
		logr.Error("gnssctl failed", zap.Error(err), zap.Duration("after", time.Since(start)))
	}
	return control.ExitStatus(status, err)
}
