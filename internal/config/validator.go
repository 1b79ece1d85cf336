package config

import (
	"fmt"
	"os"
	"strings"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// PCAP file must exist
	if c.Input.PcapFile == "" {
		errs = append(errs, "input.pcap_file must be specified")
	} else if _, err := os.Stat(c.Input.PcapFile); os.IsNotExist(err) {
		errs = append(errs, fmt.Sprintf("pcap file not found: %s", c.Input.PcapFile))
	}

	if c.Analysis.EndGapMs < 0 {
		errs = append(errs, "analysis.end_gap_ms must be >= 0")
	}

	if c.Analysis.SecureStats != "full" && c.Analysis.SecureStats != "count_only" {
		errs = append(errs, fmt.Sprintf("analysis.secure_stats must be 'full' or 'count_only', got %q", c.Analysis.SecureStats))
	}

	if c.Dissect.MinPort < 0 || c.Dissect.MinPort > 65535 {
		errs = append(errs, fmt.Sprintf("dissect.min_port must be between 0 and 65535, got %d", c.Dissect.MinPort))
	}

	for _, p := range c.Dissect.SIPPorts {
		if p <= 0 || p > 65535 {
			errs = append(errs, fmt.Sprintf("dissect.sip_ports must be between 1 and 65535, got %d", p))
		}
	}

	if c.Export.Format != "raw" && c.Export.Format != "rtpdump" {
		errs = append(errs, fmt.Sprintf("export.format must be 'raw' or 'rtpdump', got %q", c.Export.Format))
	}

	if c.Export.MaxSilenceFrames <= 0 {
		errs = append(errs, "export.max_silence_frames must be > 0")
	}

	if c.Export.S3URI != "" && !strings.HasPrefix(c.Export.S3URI, "s3://") {
		errs = append(errs, fmt.Sprintf("export.s3_uri must start with s3://, got %q", c.Export.S3URI))
	}

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
