package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeOTC()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.Tokens, err = expandPath(strings.TrimSpace(c.Paths.Tokens)); err != nil {
		return fmt.Errorf("paths.tokens: %w", err)
	}
	if strings.TrimSpace(c.Paths.ExpDir) == "" {
		c.Paths.ExpDir = defaultExpDir
	}
	if c.Paths.ExpDir, err = expandPath(strings.TrimSpace(c.Paths.ExpDir)); err != nil {
		return fmt.Errorf("paths.exp_dir: %w", err)
	}
	if c.Paths.Store, err = expandPath(strings.TrimSpace(c.Paths.Store)); err != nil {
		return fmt.Errorf("paths.store: %w", err)
	}
	if c.Metrics.Textfile, err = expandPath(strings.TrimSpace(c.Metrics.Textfile)); err != nil {
		return fmt.Errorf("metrics.textfile: %w", err)
	}
	return nil
}

func (c *Config) normalizeOTC() {
	c.OTC.Token = norm.NFC.String(strings.TrimSpace(c.OTC.Token))
	c.OTC.Placeholder = strings.TrimSpace(c.OTC.Placeholder)
	if c.OTC.Placeholder == "" {
		c.OTC.Placeholder = defaultPlaceholder
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
