package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock"
	"github.com/slackhq/threadsock/config"
	"github.com/slackhq/threadsock/util"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and print the end result. Non zero exit indicates a faulty config")
	printVersion := flag.Bool("version", false, "Print version")
	printUsage := flag.Bool("help", false, "Print command line usage")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	if *printUsage {
		flag.Usage()
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	err := c.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %s", err)
		os.Exit(1)
	}

	ctrl, err := threadsock.Main(c, *configTest, Build, l)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to start", err, l)
		os.Exit(1)
	}

	if !*configTest {
		ctx, cancel := context.WithCancel(context.Background())
		c.CatchHUP(ctx)

		ctrl.Start()
		notifyReady(l, readyStatus(ctrl))
		ctrl.ShutdownBlock()
		cancel()
	}

	os.Exit(0)
}

// readyStatus describes the running socket for the init system
func readyStatus(ctrl *threadsock.Control) string {
	sock := ctrl.Socket()
	local := "unbound"
	if la, err := ctrl.LocalAddr(); err == nil {
		local = la.String()
	}
	return fmt.Sprintf("Receiving on %s, buffer %d x %d bytes", local, sock.BufferSize(), sock.Pool().BlockSize())
}
