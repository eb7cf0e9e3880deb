package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"motord/internal/config"
	"motord/internal/status"
)

const defaultConfigPath = "./motord.yaml"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", defaultConfigPath, "Path to YAML config")
	flag.Parse()

	path, err := resolveConfigPath(configPath, flagWasSet("config"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	closeLog := setupLogging(cfg.Log)
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if path == "" {
		log.Printf("motord starting config=<defaults>")
	} else {
		log.Printf("motord starting config=%s", path)
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		// No safe way to drive the actuators without the controller.
		log.Printf("pwm output init failed: %v", err)
		closeLog()
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.Start(ctx); err != nil {
		log.Printf("runtime start failed: %v", err)
		rt.Close()
		closeLog()
		os.Exit(1)
	}

	statusDone := make(chan struct{})
	if cfg.Status.Listen != "" {
		go func() {
			defer close(statusDone)
			if err := status.Serve(ctx, cfg.Status.Listen, rt); err != nil {
				log.Printf("status server stopped: %v", err)
			}
		}()
	} else {
		close(statusDone)
	}

	<-ctx.Done()
	log.Printf("motord stopping")
	// rt.Close runs on return; status requests must be drained by then.
	<-statusDone
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// resolveConfigPath returns "" (built-in defaults) when the default config
// file is absent and no path was given explicitly.
func resolveConfigPath(path string, explicit bool) (string, error) {
	if explicit {
		return path, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

func setupLogging(cfg config.LogConfig) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.File == "" {
		return func() {}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return func() {
		log.SetOutput(os.Stderr)
		_ = lj.Close()
	}
}
