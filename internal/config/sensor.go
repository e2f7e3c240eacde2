package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
)

// DefaultConfigPath is where csi-sensor looks for its configuration when
// -config is not given.
const DefaultConfigPath = "config/csi-sensor.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Capture modes.
const (
	CaptureRouter = "router" // tcpdump over SSH
	CaptureUDP    = "udp"    // raw datagrams sent straight to this host
	CaptureFile   = "file"   // replay a pcap file
)

// Publish payload formats.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// SensorConfig is the csi-sensor configuration. Every field is optional;
// the Get methods supply defaults, so a partial file is valid.
type SensorConfig struct {
	Router   RouterConfig   `json:"router" yaml:"router"`
	CSI      CSIConfig      `json:"csi" yaml:"csi"`
	Capture  CaptureConfig  `json:"capture" yaml:"capture"`
	Estimate EstimateConfig `json:"estimate" yaml:"estimate"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
}

// RouterConfig describes how to reach the RT-AC86U.
type RouterConfig struct {
	Host         *string `json:"host,omitempty" yaml:"host,omitempty"`
	Port         *int    `json:"port,omitempty" yaml:"port,omitempty"`
	User         *string `json:"user,omitempty" yaml:"user,omitempty"`
	IdentityFile *string `json:"identity_file,omitempty" yaml:"identity_file,omitempty"`
	Interface    *string `json:"interface,omitempty" yaml:"interface,omitempty"`
	// ReloadDriver unloads and reloads the patched dhd module before
	// configuring.
	ReloadDriver *bool `json:"reload_driver,omitempty" yaml:"reload_driver,omitempty"`
	DryRun       *bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// CSIConfig holds the CSI extraction parameters sent with nexutil.
type CSIConfig struct {
	// ChanSpec in wl syntax, e.g. "36/80".
	ChanSpec     *string  `json:"chanspec,omitempty" yaml:"chanspec,omitempty"`
	CoreMask     *int     `json:"core_mask,omitempty" yaml:"core_mask,omitempty"`
	StreamMask   *int     `json:"stream_mask,omitempty" yaml:"stream_mask,omitempty"`
	MACFilters   []string `json:"mac_filters,omitempty" yaml:"mac_filters,omitempty"`
	FirstPktByte *int     `json:"first_pkt_byte,omitempty" yaml:"first_pkt_byte,omitempty"`
	DelayMicros  *int     `json:"delay_us,omitempty" yaml:"delay_us,omitempty"`
}

// CaptureConfig selects and tunes the capture source.
type CaptureConfig struct {
	Mode            *string  `json:"mode,omitempty" yaml:"mode,omitempty"`
	Listen          *string  `json:"listen,omitempty" yaml:"listen,omitempty"`
	UDPPort         *int     `json:"udp_port,omitempty" yaml:"udp_port,omitempty"`
	RcvBuf          *int     `json:"rcvbuf,omitempty" yaml:"rcvbuf,omitempty"`
	File            *string  `json:"file,omitempty" yaml:"file,omitempty"`
	Realtime        *bool    `json:"realtime,omitempty" yaml:"realtime,omitempty"`
	SpeedMultiplier *float64 `json:"speed_multiplier,omitempty" yaml:"speed_multiplier,omitempty"`
	ForwardAddr     *string  `json:"forward_addr,omitempty" yaml:"forward_addr,omitempty"`
	RecordPath      *string  `json:"record_path,omitempty" yaml:"record_path,omitempty"`
	LogInterval     *string  `json:"log_interval,omitempty" yaml:"log_interval,omitempty"` // duration string like "1m"
}

// EstimateConfig tunes the AoA and ToF estimators.
type EstimateConfig struct {
	// AntennaDistance is the spacing in metres between adjacent antennas of
	// the linear array. Half the center wavelength when unset.
	AntennaDistance *float64 `json:"antenna_distance_m,omitempty" yaml:"antenna_distance_m,omitempty"`
	Disabled        *bool    `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// StorageConfig enables the SQLite store when Path is set.
type StorageConfig struct {
	Path          *string `json:"path,omitempty" yaml:"path,omitempty"`
	KeepSnapshots *bool   `json:"keep_snapshots,omitempty" yaml:"keep_snapshots,omitempty"`
}

// MQTTConfig enables publishing when Broker is set.
type MQTTConfig struct {
	Broker   *string `json:"broker,omitempty" yaml:"broker,omitempty"`
	Topic    *string `json:"topic,omitempty" yaml:"topic,omitempty"`
	ClientID *string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username *string `json:"username,omitempty" yaml:"username,omitempty"`
	Password *string `json:"password,omitempty" yaml:"password,omitempty"`
	QoS      *int    `json:"qos,omitempty" yaml:"qos,omitempty"`
	Format   *string `json:"format,omitempty" yaml:"format,omitempty"`
}

// MonitorConfig sets the HTTP and gRPC listen addresses. An empty string
// disables the server.
type MonitorConfig struct {
	HTTPListen *string `json:"http_listen,omitempty" yaml:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// LoadSensorConfig loads a SensorConfig from a .json, .yaml or .yml file of
// at most 1MB and validates it.
func LoadSensorConfig(path string) (*SensorConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SensorConfig{}
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field that is set.
func (c *SensorConfig) Validate() error {
	if c.Router.Port != nil && (*c.Router.Port <= 0 || *c.Router.Port > 65535) {
		return fmt.Errorf("router.port must be 1-65535, got %d", *c.Router.Port)
	}

	if c.CSI.ChanSpec != nil {
		if _, err := chanspec.ParseChanSpecArg(*c.CSI.ChanSpec); err != nil {
			return fmt.Errorf("csi.chanspec: %w", err)
		}
	}
	if c.CSI.CoreMask != nil && (*c.CSI.CoreMask <= 0 || *c.CSI.CoreMask > 0xf) {
		return fmt.Errorf("csi.core_mask must be 0x1-0xf, got %#x", *c.CSI.CoreMask)
	}
	if c.CSI.StreamMask != nil && (*c.CSI.StreamMask <= 0 || *c.CSI.StreamMask > 0xf) {
		return fmt.Errorf("csi.stream_mask must be 0x1-0xf, got %#x", *c.CSI.StreamMask)
	}
	if len(c.CSI.MACFilters) > chanspec.MaxMACFilters {
		return fmt.Errorf("csi.mac_filters: %w", chanspec.ErrTooManyMACs)
	}
	for _, m := range c.CSI.MACFilters {
		if _, err := net.ParseMAC(m); err != nil {
			return fmt.Errorf("csi.mac_filters: %q: %w", m, chanspec.ErrInvalidMAC)
		}
	}
	if c.CSI.FirstPktByte != nil && (*c.CSI.FirstPktByte < 0 || *c.CSI.FirstPktByte > 0xff) {
		return fmt.Errorf("csi.first_pkt_byte must be 0-255, got %d", *c.CSI.FirstPktByte)
	}
	if c.CSI.DelayMicros != nil && (*c.CSI.DelayMicros < 0 || *c.CSI.DelayMicros > 0xffff) {
		return fmt.Errorf("csi.delay_us must be 0-65535, got %d", *c.CSI.DelayMicros)
	}

	switch c.GetCaptureMode() {
	case CaptureRouter, CaptureUDP:
	case CaptureFile:
		if c.GetCaptureFile() == "" {
			return fmt.Errorf("capture.file is required in file mode")
		}
	default:
		return fmt.Errorf("capture.mode must be %q, %q or %q, got %q", CaptureRouter, CaptureUDP, CaptureFile, c.GetCaptureMode())
	}
	if c.Capture.SpeedMultiplier != nil && *c.Capture.SpeedMultiplier <= 0 {
		return fmt.Errorf("capture.speed_multiplier must be positive, got %g", *c.Capture.SpeedMultiplier)
	}
	if c.Capture.UDPPort != nil && (*c.Capture.UDPPort < 0 || *c.Capture.UDPPort > 65535) {
		return fmt.Errorf("capture.udp_port must be 0-65535, got %d", *c.Capture.UDPPort)
	}
	if c.Capture.LogInterval != nil && *c.Capture.LogInterval != "" {
		if _, err := time.ParseDuration(*c.Capture.LogInterval); err != nil {
			return fmt.Errorf("invalid capture.log_interval '%s': %w", *c.Capture.LogInterval, err)
		}
	}

	if c.Estimate.AntennaDistance != nil && *c.Estimate.AntennaDistance <= 0 {
		return fmt.Errorf("estimate.antenna_distance_m must be positive, got %g", *c.Estimate.AntennaDistance)
	}

	if c.MQTT.QoS != nil && (*c.MQTT.QoS < 0 || *c.MQTT.QoS > 2) {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *c.MQTT.QoS)
	}
	if f := c.GetMQTTFormat(); f != FormatJSON && f != FormatProto {
		return fmt.Errorf("mqtt.format must be %q or %q, got %q", FormatJSON, FormatProto, f)
	}
	return nil
}

func (c *SensorConfig) GetRouterHost() string {
	if c.Router.Host == nil {
		return "192.168.1.1"
	}
	return *c.Router.Host
}

func (c *SensorConfig) GetRouterPort() int {
	if c.Router.Port == nil {
		return 22
	}
	return *c.Router.Port
}

func (c *SensorConfig) GetRouterUser() string {
	if c.Router.User == nil {
		return "admin"
	}
	return *c.Router.User
}

func (c *SensorConfig) GetRouterIdentityFile() string {
	if c.Router.IdentityFile == nil {
		return ""
	}
	return *c.Router.IdentityFile
}

func (c *SensorConfig) GetRouterInterface() string {
	if c.Router.Interface == nil {
		return "eth6"
	}
	return *c.Router.Interface
}

func (c *SensorConfig) GetReloadDriver() bool {
	return c.Router.ReloadDriver != nil && *c.Router.ReloadDriver
}

func (c *SensorConfig) GetDryRun() bool {
	return c.Router.DryRun != nil && *c.Router.DryRun
}

// GetChanSpec returns the configured chanspec, 36/80 by default.
func (c *SensorConfig) GetChanSpec() chanspec.ChanSpec {
	arg := "36/80"
	if c.CSI.ChanSpec != nil {
		arg = *c.CSI.ChanSpec
	}
	cs, err := chanspec.ParseChanSpecArg(arg)
	if err != nil {
		cs, _ = chanspec.ParseChanSpecArg("36/80")
	}
	return cs
}

// GetParams assembles the nexutil CSI parameters.
func (c *SensorConfig) GetParams() (chanspec.Params, error) {
	p := chanspec.Params{
		ChanSpec:       c.GetChanSpec(),
		CSICollect:     true,
		Cores:          chanspec.Cores(0xf),
		SpatialStreams: chanspec.SpatialStreams(0x1),
	}
	if c.CSI.CoreMask != nil {
		p.Cores = chanspec.Cores(*c.CSI.CoreMask)
	}
	if c.CSI.StreamMask != nil {
		p.SpatialStreams = chanspec.SpatialStreams(*c.CSI.StreamMask)
	}
	if c.CSI.FirstPktByte != nil {
		b := uint8(*c.CSI.FirstPktByte)
		p.FirstPktByte = &b
	}
	if c.CSI.DelayMicros != nil {
		p.Delay = uint16(*c.CSI.DelayMicros)
	} else {
		p.Delay = uint16(chanspec.DefaultDelay(p.Cores, p.SpatialStreams) / time.Microsecond)
	}
	for _, s := range c.CSI.MACFilters {
		mac, err := net.ParseMAC(s)
		if err != nil {
			return chanspec.Params{}, fmt.Errorf("%q: %w", s, chanspec.ErrInvalidMAC)
		}
		p.MACAddrs = append(p.MACAddrs, mac)
	}
	if err := p.Validate(); err != nil {
		return chanspec.Params{}, err
	}
	return p, nil
}

func (c *SensorConfig) GetCaptureMode() string {
	if c.Capture.Mode == nil || *c.Capture.Mode == "" {
		return CaptureRouter
	}
	return *c.Capture.Mode
}

func (c *SensorConfig) GetCaptureListen() string {
	if c.Capture.Listen == nil {
		return fmt.Sprintf(":%d", c.GetUDPPort())
	}
	return *c.Capture.Listen
}

func (c *SensorConfig) GetUDPPort() int {
	if c.Capture.UDPPort == nil {
		return 5500
	}
	return *c.Capture.UDPPort
}

func (c *SensorConfig) GetRcvBuf() int {
	if c.Capture.RcvBuf == nil {
		return 4 << 20
	}
	return *c.Capture.RcvBuf
}

func (c *SensorConfig) GetCaptureFile() string {
	if c.Capture.File == nil {
		return ""
	}
	return *c.Capture.File
}

func (c *SensorConfig) GetRealtime() bool {
	return c.Capture.Realtime != nil && *c.Capture.Realtime
}

func (c *SensorConfig) GetSpeedMultiplier() float64 {
	if c.Capture.SpeedMultiplier == nil {
		return 1.0
	}
	return *c.Capture.SpeedMultiplier
}

func (c *SensorConfig) GetForwardAddr() string {
	if c.Capture.ForwardAddr == nil {
		return ""
	}
	return *c.Capture.ForwardAddr
}

func (c *SensorConfig) GetRecordPath() string {
	if c.Capture.RecordPath == nil {
		return ""
	}
	return *c.Capture.RecordPath
}

// GetLogInterval parses and returns the LogInterval as a time.Duration.
func (c *SensorConfig) GetLogInterval() time.Duration {
	if c.Capture.LogInterval == nil || *c.Capture.LogInterval == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(*c.Capture.LogInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// GetAntennaDistance returns the configured spacing, or half the
// wavelength at the configured center frequency.
func (c *SensorConfig) GetAntennaDistance() float64 {
	if c.Estimate.AntennaDistance != nil {
		return *c.Estimate.AntennaDistance
	}
	const speedOfLight = 299_792_458.0
	return speedOfLight / (c.GetChanSpec().CenterFrequencyMHz() * 1e6) / 2
}

func (c *SensorConfig) GetEstimateEnabled() bool {
	return c.Estimate.Disabled == nil || !*c.Estimate.Disabled
}

func (c *SensorConfig) GetStoragePath() string {
	if c.Storage.Path == nil {
		return ""
	}
	return *c.Storage.Path
}

// GetKeepSnapshots reports whether raw coefficients are stored alongside
// the estimates. Defaults to true.
func (c *SensorConfig) GetKeepSnapshots() bool {
	return c.Storage.KeepSnapshots == nil || *c.Storage.KeepSnapshots
}

func (c *SensorConfig) GetMQTTBroker() string {
	if c.MQTT.Broker == nil {
		return ""
	}
	return *c.MQTT.Broker
}

func (c *SensorConfig) GetMQTTTopic() string {
	if c.MQTT.Topic == nil {
		return "csi/estimates"
	}
	return *c.MQTT.Topic
}

func (c *SensorConfig) GetMQTTClientID() string {
	if c.MQTT.ClientID == nil {
		return "csi-sensor"
	}
	return *c.MQTT.ClientID
}

func (c *SensorConfig) GetMQTTUsername() string {
	if c.MQTT.Username == nil {
		return ""
	}
	return *c.MQTT.Username
}

func (c *SensorConfig) GetMQTTPassword() string {
	if c.MQTT.Password == nil {
		return ""
	}
	return *c.MQTT.Password
}

func (c *SensorConfig) GetMQTTQoS() byte {
	if c.MQTT.QoS == nil {
		return 0
	}
	return byte(*c.MQTT.QoS)
}

func (c *SensorConfig) GetMQTTFormat() string {
	if c.MQTT.Format == nil || *c.MQTT.Format == "" {
		return FormatJSON
	}
	return *c.MQTT.Format
}

func (c *SensorConfig) GetHTTPListen() string {
	if c.Monitor.HTTPListen == nil {
		return ":8080"
	}
	return *c.Monitor.HTTPListen
}

func (c *SensorConfig) GetGRPCListen() string {
	if c.Monitor.GRPCListen == nil {
		return ":50051"
	}
	return *c.Monitor.GRPCListen
}
