// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config decodes the declarative participant configuration
// document of spec.md §6.2 from YAML/JSON (both are valid YAML) into
// typed Go values, with explicit ConfigurationError validation instead
// of panics (spec.md §7).
package config

import (
	"fmt"
	"os"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"
	"gopkg.in/yaml.v3"
)

// ConfigurationError wraps an invalid document, unknown option, or
// duplicate service name (spec.md §7). Surfaced synchronously to the
// creator; it never changes any running state.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return e.msg }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// LogLevel mirrors spec.md §6.2's logging.sinks[].level enumeration.
type LogLevel string

const (
	LogOff      LogLevel = "Off"
	LogCritical LogLevel = "Critical"
	LogError    LogLevel = "Error"
	LogWarn     LogLevel = "Warn"
	LogInfo     LogLevel = "Info"
	LogDebug    LogLevel = "Debug"
	LogTrace    LogLevel = "Trace"
)

var validLogLevels = map[LogLevel]bool{
	LogOff: true, LogCritical: true, LogError: true, LogWarn: true, LogInfo: true, LogDebug: true, LogTrace: true,
}

// SinkType is a logging.sinks[].type value.
type SinkType string

const (
	SinkStdout SinkType = "Stdout"
	SinkFile   SinkType = "File"
	SinkRemote SinkType = "Remote"
)

var validSinkTypes = map[SinkType]bool{SinkStdout: true, SinkFile: true, SinkRemote: true}

// LogSink is one entry of logging.sinks.
type LogSink struct {
	Type    SinkType `yaml:"type"`
	Level   LogLevel `yaml:"level"`
	LogName string   `yaml:"logName,omitempty"`
}

// Logging is the logging section of spec.md §6.2.
type Logging struct {
	Sinks          []LogSink `yaml:"sinks"`
	LogFromRemotes bool      `yaml:"logFromRemotes"`
}

// Middleware is the middleware section of spec.md §6.2.
type Middleware struct {
	RegistryURI           string   `yaml:"registryUri"`
	EnableDomainSockets   bool     `yaml:"enableDomainSockets"`
	ConnectTimeoutSeconds float64  `yaml:"connectTimeoutSeconds"`
	AcceptorURIs          []string `yaml:"acceptorUris"`
}

// HealthCheck is the healthCheck section of spec.md §6.2, in seconds.
type HealthCheck struct {
	SoftResponseTimeout float64 `yaml:"softResponseTimeout"`
	HardResponseTimeout float64 `yaml:"hardResponseTimeout"`
}

// AggregationMode is experimental.timeSynchronization.enableMessageAggregation.
type AggregationMode string

const (
	AggregationOff  AggregationMode = "Off"
	AggregationOn   AggregationMode = "On"
	AggregationAuto AggregationMode = "Auto"
)

var validAggregationModes = map[AggregationMode]bool{AggregationOff: true, AggregationOn: true, AggregationAuto: true}

// TimeSynchronization is experimental.timeSynchronization.
type TimeSynchronization struct {
	AnimationFactor          float64         `yaml:"animationFactor"`
	EnableMessageAggregation AggregationMode `yaml:"enableMessageAggregation"`
}

// MetricsSink is one entry of experimental.metrics.sinks.
type MetricsSink struct {
	Type string `yaml:"type"` // JsonFile, Remote
	Name string `yaml:"name"`
}

// Metrics is experimental.metrics.
type Metrics struct {
	UpdateInterval    float64       `yaml:"updateInterval"`
	CollectFromRemote bool          `yaml:"collectFromRemote"`
	Sinks             []MetricsSink `yaml:"sinks"`
}

// Experimental is the experimental section of spec.md §6.2.
type Experimental struct {
	TimeSynchronization TimeSynchronization `yaml:"timeSynchronization"`
	Metrics             Metrics             `yaml:"metrics"`
}

// LabelKind is Mandatory or Optional (spec.md §3).
type LabelKind string

const (
	LabelMandatory LabelKind = "Mandatory"
	LabelOptional  LabelKind = "Optional"
)

// Label configures one matching discriminator (spec.md §4.6).
type Label struct {
	Key   string    `yaml:"key"`
	Value string    `yaml:"value"`
	Kind  LabelKind `yaml:"kind"`
}

// Controller is one entry under a controller-section list (canControllers,
// dataPublishers, …): name, network-or-topic, optional replay depth,
// trace sinks, and labels (spec.md §6.2).
type Controller struct {
	Name          string   `yaml:"name"`
	Network       string   `yaml:"network,omitempty"`
	Topic         string   `yaml:"topic,omitempty"`
	MediaType     string   `yaml:"mediaType,omitempty"`
	History       int      `yaml:"replay,omitempty"`
	UseTraceSinks []string `yaml:"useTraceSinks,omitempty"`
	Labels        []Label  `yaml:"labels,omitempty"`
}

// Document is the full participant configuration of spec.md §6.2.
type Document struct {
	ParticipantName string `yaml:"participantName,omitempty"`
	Description     string `yaml:"description,omitempty"`

	Middleware   Middleware   `yaml:"middleware"`
	Logging      Logging      `yaml:"logging"`
	HealthCheck  HealthCheck  `yaml:"healthCheck"`
	Experimental Experimental `yaml:"experimental"`

	CanControllers      []Controller `yaml:"canControllers,omitempty"`
	EthernetControllers []Controller `yaml:"ethernetControllers,omitempty"`
	FlexrayControllers  []Controller `yaml:"flexrayControllers,omitempty"`
	LinControllers      []Controller `yaml:"linControllers,omitempty"`
	DataPublishers      []Controller `yaml:"dataPublishers,omitempty"`
	DataSubscribers     []Controller `yaml:"dataSubscribers,omitempty"`
	RpcClients          []Controller `yaml:"rpcClients,omitempty"`
	RpcServers          []Controller `yaml:"rpcServers,omitempty"`
}

// Load reads and decodes the configuration document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document from raw YAML/JSON bytes and
// validates it.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, configErrorf("invalid document: %v", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate applies spec.md §7's ConfigurationError checks: duplicate
// service names, history depth out of range, unknown label kinds,
// unknown log levels/sink types, unknown aggregation mode.
func (d *Document) Validate() error {
	seen := make(map[string]bool)
	allSections := [][]Controller{
		d.CanControllers, d.EthernetControllers, d.FlexrayControllers, d.LinControllers,
		d.DataPublishers, d.DataSubscribers, d.RpcClients, d.RpcServers,
	}
	for _, section := range allSections {
		for _, c := range section {
			if c.Name == "" {
				return configErrorf("controller entry missing required field 'name'")
			}
			if seen[c.Name] {
				return configErrorf("duplicate service name %q", c.Name)
			}
			seen[c.Name] = true
			if c.History < 0 || c.History > 1 {
				return configErrorf("service %q: history depth %d not in {0,1}", c.Name, c.History)
			}
			for _, l := range c.Labels {
				if l.Kind != LabelMandatory && l.Kind != LabelOptional {
					return configErrorf("service %q: label %q has unknown kind %q", c.Name, l.Key, l.Kind)
				}
			}
		}
	}
	for _, sink := range d.Logging.Sinks {
		if !validSinkTypes[sink.Type] {
			return configErrorf("logging: unknown sink type %q", sink.Type)
		}
		if !validLogLevels[sink.Level] {
			return configErrorf("logging: unknown level %q", sink.Level)
		}
	}
	if mode := d.Experimental.TimeSynchronization.EnableMessageAggregation; mode != "" && !validAggregationModes[mode] {
		return configErrorf("experimental.timeSynchronization: unknown aggregation mode %q", mode)
	}
	return nil
}

// ResolveParticipantName applies spec.md §6.2's precedence rule
// ("configuration wins") between a programmatically supplied name and
// the document's participantName, logging any mismatch at Info.
func ResolveParticipantName(programmatic string, doc *Document, logger log.Logger) string {
	if doc.ParticipantName == "" {
		return programmatic
	}
	if programmatic != "" && programmatic != doc.ParticipantName {
		logger.Info("config: participantName mismatch, configuration wins",
			zap.String("programmatic", programmatic), zap.String("configuration", doc.ParticipantName))
	}
	return doc.ParticipantName
}
