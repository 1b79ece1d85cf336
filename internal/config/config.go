package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the RTP stream analyzer.
type Config struct {
	Input    InputConfig    `yaml:"input"    mapstructure:"input"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Dissect  DissectConfig  `yaml:"dissect"  mapstructure:"dissect"`
	Export   ExportConfig   `yaml:"export"   mapstructure:"export"`
	Output   OutputConfig   `yaml:"output"   mapstructure:"output"`
	Logging  LoggingConfig  `yaml:"logging"  mapstructure:"logging"`
}

type InputConfig struct {
	PcapFile string `yaml:"pcap_file" mapstructure:"pcap_file"`
}

type AnalysisConfig struct {
	DisplayFilter      string `yaml:"display_filter"       mapstructure:"display_filter"`
	ApplyDisplayFilter bool   `yaml:"apply_display_filter" mapstructure:"apply_display_filter"`
	EndGapMs           int    `yaml:"end_gap_ms"           mapstructure:"end_gap_ms"`
	SecureStats        string `yaml:"secure_stats"         mapstructure:"secure_stats"`
}

type DissectConfig struct {
	HeuristicRTP bool  `yaml:"heuristic_rtp" mapstructure:"heuristic_rtp"`
	MinPort      int   `yaml:"min_port"      mapstructure:"min_port"`
	SIPPorts     []int `yaml:"sip_ports"     mapstructure:"sip_ports"`
}

type ExportConfig struct {
	Format           string `yaml:"format"             mapstructure:"format"`
	MaxSilenceFrames int    `yaml:"max_silence_frames" mapstructure:"max_silence_frames"`
	S3URI            string `yaml:"s3_uri"             mapstructure:"s3_uri"`
	S3Region         string `yaml:"s3_region"          mapstructure:"s3_region"`
}

type OutputConfig struct {
	JSONFile        string `yaml:"json_file"        mapstructure:"json_file"`
	SQLiteFile      string `yaml:"sqlite_file"      mapstructure:"sqlite_file"`
	MetricsTextfile string `yaml:"metrics_textfile" mapstructure:"metrics_textfile"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file"  mapstructure:"file"`
}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("analysis.apply_display_filter", false)
	v.SetDefault("analysis.end_gap_ms", 0)
	v.SetDefault("analysis.secure_stats", "full")
	v.SetDefault("dissect.heuristic_rtp", true)
	v.SetDefault("dissect.min_port", 1024)
	v.SetDefault("dissect.sip_ports", []int{5060})
	v.SetDefault("export.format", "raw")
	v.SetDefault("export.max_silence_frames", 14400000)
	v.SetDefault("logging.level", "info")
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	endGap := "never"
	if c.Analysis.EndGapMs > 0 {
		endGap = fmt.Sprintf("%dms", c.Analysis.EndGapMs)
	}

	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  PCAP:           %s\n", c.Input.PcapFile))
	sb.WriteString(fmt.Sprintf("  Filter:         %q (applied=%v)\n", c.Analysis.DisplayFilter, c.Analysis.ApplyDisplayFilter))
	sb.WriteString(fmt.Sprintf("  Stream end gap: %s\n", endGap))
	sb.WriteString(fmt.Sprintf("  SRTP stats:     %s\n", c.Analysis.SecureStats))
	sb.WriteString(fmt.Sprintf("  Heuristic RTP:  %v (min port %d)\n", c.Dissect.HeuristicRTP, c.Dissect.MinPort))
	sb.WriteString(fmt.Sprintf("  SIP ports:      %v\n", c.Dissect.SIPPorts))
	sb.WriteString(fmt.Sprintf("  Export:         %s (max silence %d frames)\n", c.Export.Format, c.Export.MaxSilenceFrames))
	if c.Export.S3URI != "" {
		sb.WriteString(fmt.Sprintf("  S3 upload:      %s\n", c.Export.S3URI))
	}
	return sb.String()
}
