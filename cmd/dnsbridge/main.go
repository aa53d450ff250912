package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rnetx/dnsbridge/core"
	"github.com/rnetx/dnsbridge/log"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var mainCommand = &cobra.Command{
	Use:   "dnsbridge",
	Short: "serve DNS over udp, tcp, tls, https and http3 in front of one upstream",
	Run: func(_ *cobra.Command, _ []string) {
		code := run()
		if code != 0 {
			os.Exit(code)
		}
	},
}

var (
	configPath string
	baseDir    string
)

func init() {
	mainCommand.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
	mainCommand.PersistentFlags().StringVarP(&baseDir, "directory", "d", "", "base directory for key and certificate paths, defaults to the config file directory")
	mainCommand.AddCommand(versionCommand)
}

func main() {
	if err := mainCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadOptions(path string) (core.Options, error) {
	var options core.Options
	raw, err := os.ReadFile(path)
	if err != nil {
		return options, err
	}
	err = yaml.Unmarshal(raw, &options)
	return options, err
}

func run() int {
	options, err := loadOptions(configPath)
	if err != nil {
		log.DefaultLogger.Errorf("load config file failed: %s, error: %s", configPath, err)
		return 1
	}
	if baseDir == "" {
		baseDir = filepath.Dir(configPath)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, coreLogger, err := core.NewCore(ctx, options, baseDir)
	if err != nil {
		log.DefaultLogger.Error(err)
		return 1
	}
	defer c.Close()
	coreLogger.Infof("dnsbridge %s", Version)
	go signalHandle(cancel, coreLogger)
	err = c.Run()
	if err != nil {
		return 1
	}
	return 0
}

func signalHandle(cancel context.CancelFunc, logger log.Logger) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	<-signalChan
	logger.Warn("receive signal, exiting...")
	cancel()
}
