package core

import (
	"github.com/rnetx/dnsbridge/listener"
	"github.com/rnetx/dnsbridge/upstream"
)

type Options struct {
	Log      LogOptions       `yaml:"log,omitempty"`
	Listen   listener.Options `yaml:"listen"`
	Upstream upstream.Options `yaml:"upstream"`
}

type LogOptions struct {
	Level            string `yaml:"level,omitempty"`
	Output           string `yaml:"output,omitempty"`
	DisableTimestamp bool   `yaml:"disable-timestamp,omitempty"`
	DisableColor     bool   `yaml:"disable-color,omitempty"`
}
