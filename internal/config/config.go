// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

// Package config provides functionality to deal with operator configuration
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

type FileReader interface {
	ReadFile(fileName string) ([]byte, error)
}

type ConfigReader struct{}

func (f *ConfigReader) ReadFile(fileName string) ([]byte, error) {
	file, err := os.Open(fileName) //nolint:gosec
	if err != nil {
		return nil, err
	}
	defer func() {
		err = file.Close()
	}()

	byteValue, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	return byteValue, err
}

type Config struct {
	reader FileReader

	// /etc/config/config.json
	CruiseControlPort     int32 `json:"cruiseControlPort"`
	RequestTimeoutSeconds int   `json:"requestTimeoutSeconds"`
}

func NewDefaultConfiguration(configReader FileReader) *Config {
	return &Config{
		reader:                configReader,
		CruiseControlPort:     0,
		RequestTimeoutSeconds: 0,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("cruiseControlPort:%d,requestTimeoutSeconds:%d", c.CruiseControlPort, c.RequestTimeoutSeconds)
}

// RequestTimeout is the per-call deadline for Cruise Control requests.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.CruiseControlPort <= 0 {
		return errors.New("cruise control port is required")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return errors.New("request timeout is required")
	}
	return nil
}

func (c *Config) Reload() error {
	if err := c.readJSONAndUnmarshal("/etc/config/config.json"); err != nil {
		return fmt.Errorf("unable to read config.json: %w", err)
	}
	return c.Validate()
}

func (c *Config) readJSONAndUnmarshal(fileName string) error {
	byteValue, err := c.reader.ReadFile(fileName)
	if err != nil {
		return err
	}

	if err = json.Unmarshal(byteValue, &c); err != nil {
		return err
	}

	return nil
}
