package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/threadsock"
	"github.com/slackhq/threadsock/config"
)

var logger service.Logger

type program struct {
	configPath *string
	configTest *bool
	build      string
	control    *threadsock.Control
	cancel     context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	// Start should not block.
	logger.Info("Threadsock service starting.")

	l := logrus.New()
	HookLogger(l)

	c := config.NewC(l)
	err := c.Load(*p.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %s", err)
	}

	p.control, err = threadsock.Main(c, *p.configTest, p.build, l)
	if err != nil {
		return err
	}

	var ctx context.Context
	ctx, p.cancel = context.WithCancel(context.Background())
	c.CatchHUP(ctx)

	p.control.Start()
	return nil
}

func (p *program) Stop(s service.Service) error {
	logger.Info("Threadsock service stopping.")
	if p.cancel != nil {
		p.cancel()
	}
	if p.control != nil {
		p.control.Stop()
	}
	return nil
}

func doService(configPath *string, configTest *bool, build string, serviceFlag *string) {
	if *configPath == "" {
		ex, err := os.Executable()
		if err != nil {
			panic(err)
		}
		*configPath = filepath.Dir(ex) + "/config.yml"
	}

	svcConfig := &service.Config{
		Name:        "threadsock",
		DisplayName: "Threadsock UDP Service",
		Description: "UDP endpoint with a dedicated receive goroutine and a bounded packet buffer",
		Arguments:   []string{"-service", "run", "-config", *configPath},
	}

	prg := &program{
		configPath: configPath,
		configTest: configTest,
		build:      build,
	}

	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	errs := make(chan error, 5)
	logger, err = s.Logger(errs)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		for {
			err := <-errs
			if err != nil {
				log.Print(err)
			}
		}
	}()

	switch *serviceFlag {
	case "run":
		err = s.Run()
		if err != nil {
			logger.Error(err)
		}
	default:
		err := service.Control(s, *serviceFlag)
		if err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			log.Fatal(err)
		}
		return
	}
}
