package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hotaru-social/hotaru/types"
)

type Config struct {
	Federation types.FederationConfig `yaml:"federation"`
	Server     Server                 `yaml:"server"`
	NodeInfo   types.NodeInfo         `yaml:"nodeInfo"`
}

type Server struct {
	Dsn             string `yaml:"dsn"`
	RedisAddr       string `yaml:"redisAddr"`
	RedisDB         int    `yaml:"redisDB"`
	MemcachedAddr   string `yaml:"memcachedAddr"`
	DeliveryWorkers int    `yaml:"deliveryWorkers"`
	EnableTrace     bool   `yaml:"enableTrace"`
	TraceEndpoint   string `yaml:"traceEndpoint"`
}

func loadConfig(path string) (Config, error) {
	var config Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return config, err
	}
	if config.Server.DeliveryWorkers == 0 {
		config.Server.DeliveryWorkers = 8
	}
	return config, nil
}
