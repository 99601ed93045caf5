// Package config loads the edgecycle plant configuration.
//
// A configuration file is YAML (.yaml, .yml) or CUE (.cue), chosen by
// extension. YAML is decoded strictly: unknown keys are errors. Both
// formats decode into the same Config, which is then defaulted and
// validated with go-playground/validator tags plus cross-reference checks
// (controllers must name configured batteries and meters).
//
// Example YAML:
//
//	cycle:
//	  cycle_time_ms: 1000
//	batteries:
//	  - id: battery0
//	    simulator: {initial_soc: 60}
//	meters:
//	  - id: meter0
//	    load_w: 1500
//	    storages: [battery0]
//	controllers:
//	  balancing:
//	    - {id: ctrlBalancing0, battery: battery0, meter: meter0}
package config

import (
	"reflect"
	"time"

	"github.com/roach88/edgecycle/internal/battery"
	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/engine"
	"github.com/roach88/edgecycle/internal/simulator"
)

// Scheduler types.
const (
	SchedulerFixed        = "fixed"
	SchedulerAlphabetical = "alphabetical"
	SchedulerDaily        = "daily"
)

// Config is the whole plant configuration.
type Config struct {
	Cycle       Cycle       `yaml:"cycle" json:"cycle"`
	Bridge      Bridge      `yaml:"bridge" json:"bridge"`
	Batteries   []Battery   `yaml:"batteries" json:"batteries" validate:"required,min=1,dive"`
	Meters      []Meter     `yaml:"meters" json:"meters" validate:"dive"`
	Controllers Controllers `yaml:"controllers" json:"controllers"`
	Scheduler   Scheduler   `yaml:"scheduler" json:"scheduler"`
	Store       Store       `yaml:"store" json:"store"`
	Metrics     Metrics     `yaml:"metrics" json:"metrics"`
	Simulation  Simulation  `yaml:"simulation" json:"simulation"`

	// Hash is the hex SHA-256 of the file the config was loaded from.
	Hash string `yaml:"-" json:"-"`
}

// Cycle configures the scan cycle.
type Cycle struct {
	// CycleTimeMs is the cadence; -1 waits for triggers, 0 does not wait.
	CycleTimeMs      *int     `yaml:"cycle_time_ms" json:"cycle_time_ms" validate:"omitempty,gte=-1"`
	LogInterval      Duration `yaml:"log_interval" json:"log_interval"`
	DebugLogInterval Duration `yaml:"debug_log_interval" json:"debug_log_interval"`
}

// Bridge configures device I/O.
type Bridge struct {
	// Synchronous performs reads and writes inside the cycle phases instead
	// of on the bridge worker.
	Synchronous bool     `yaml:"synchronous" json:"synchronous"`
	LogInterval Duration `yaml:"log_interval" json:"log_interval"`
}

// Battery configures one battery and its simulated hardware.
type Battery struct {
	ID            string   `yaml:"id" json:"id" validate:"required"`
	StartStop     string   `yaml:"start_stop" json:"start_stop" validate:"omitempty,oneof=AUTO START STOP"`
	SettleTimeout Duration `yaml:"settle_timeout" json:"settle_timeout"`
	StartSettle   Duration `yaml:"start_settle" json:"start_settle"`
	StopSettle    Duration `yaml:"stop_settle" json:"stop_settle"`
	MaxStartTime  Duration `yaml:"max_start_time" json:"max_start_time"`
	MaxStopTime   Duration `yaml:"max_stop_time" json:"max_stop_time"`
	RetryWindow   Duration `yaml:"retry_window" json:"retry_window"`
	MaxRetries    *int     `yaml:"max_retries" json:"max_retries" validate:"omitempty,gte=0"`
	StatusRollup  string   `yaml:"status_rollup" json:"status_rollup" validate:"omitempty,oneof=strict compat"`

	Simulator BatterySimulator `yaml:"simulator" json:"simulator"`
}

// BatterySimulator configures the simulated battery hardware.
type BatterySimulator struct {
	CapacityWh     int      `yaml:"capacity_wh" json:"capacity_wh" validate:"gte=0"`
	MaxPowerW      int      `yaml:"max_power_w" json:"max_power_w" validate:"gte=0"`
	InitialSoc     *float64 `yaml:"initial_soc" json:"initial_soc" validate:"omitempty,gte=0,lte=100"`
	InterlockDelay Duration `yaml:"interlock_delay" json:"interlock_delay"`
}

// Meter configures a simulated grid meter. The load is LoadW unless a
// Profile is given.
type Meter struct {
	ID       string   `yaml:"id" json:"id" validate:"required"`
	LoadW    int      `yaml:"load_w" json:"load_w"`
	Profile  *Profile `yaml:"profile" json:"profile"`
	Storages []string `yaml:"storages" json:"storages"`
}

// Profile is a stepped load profile starting at midnight UTC of the day
// the plant is built.
type Profile struct {
	Step   Duration `yaml:"step" json:"step" validate:"gt=0"`
	Values []int    `yaml:"values" json:"values" validate:"required,min=1"`
}

// Controllers lists the configured controllers by kind.
type Controllers struct {
	Balancing []Balancing `yaml:"balancing" json:"balancing" validate:"dive"`
	StartStop []StartStop `yaml:"startstop" json:"startstop" validate:"dive"`
}

// Balancing configures a grid-balancing controller.
type Balancing struct {
	ID                 string `yaml:"id" json:"id" validate:"required"`
	Battery            string `yaml:"battery" json:"battery" validate:"required"`
	Meter              string `yaml:"meter" json:"meter" validate:"required"`
	TargetGridSetpoint int    `yaml:"target_grid_setpoint" json:"target_grid_setpoint"`
}

// StartStop configures an SoC window start/stop controller.
type StartStop struct {
	ID         string `yaml:"id" json:"id" validate:"required"`
	Battery    string `yaml:"battery" json:"battery" validate:"required"`
	StopBelow  int    `yaml:"stop_below" json:"stop_below" validate:"gte=0,lte=100"`
	StartAbove int    `yaml:"start_above" json:"start_above" validate:"gte=0,lte=100,gtefield=StopBelow"`
}

// Scheduler selects the controller order.
type Scheduler struct {
	Type string `yaml:"type" json:"type" validate:"omitempty,oneof=fixed alphabetical daily"`
	// Order is the full list for fixed, the prefix for alphabetical and the
	// fallback for daily.
	Order   []string `yaml:"order" json:"order"`
	Windows []Window `yaml:"windows" json:"windows" validate:"dive"`
}

// Window is a daily scheduler window.
type Window struct {
	Name        string   `yaml:"name" json:"name" validate:"required"`
	Spec        string   `yaml:"spec" json:"spec" validate:"required,cron"`
	Controllers []string `yaml:"controllers" json:"controllers"`
}

// Store configures the timedata history.
type Store struct {
	// Path of the SQLite database; empty disables recording.
	Path string `yaml:"path" json:"path"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr to serve /metrics on; empty disables the endpoint.
	Addr string `yaml:"addr" json:"addr" validate:"omitempty,hostname_port"`
}

// Simulation configures the time-leap simulation command.
type Simulation struct {
	Duration Duration `yaml:"duration" json:"duration"`
	Step     Duration `yaml:"step" json:"step"`
	Collect  []string `yaml:"collect" json:"collect"`
}

// Default returns a configuration with every default applied and one
// simulated battery.
func Default() *Config {
	cfg := &Config{Batteries: []Battery{{ID: "battery0"}}}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values. Explicit zero is only distinguishable
// for pointer fields.
func (c *Config) applyDefaults() {
	if c.Cycle.CycleTimeMs == nil {
		ms := engine.DefaultCycleTime
		c.Cycle.CycleTimeMs = &ms
	}
	setDuration(&c.Cycle.LogInterval, engine.DefaultLogInterval)
	setDuration(&c.Cycle.DebugLogInterval, 10*time.Second)
	setDuration(&c.Bridge.LogInterval, engine.DefaultLogInterval)
	if c.Scheduler.Type == "" {
		c.Scheduler.Type = SchedulerAlphabetical
	}

	for i := range c.Batteries {
		c.Batteries[i].ApplyDefaults()
	}

	setDuration(&c.Simulation.Duration, 24*time.Hour)
	setDuration(&c.Simulation.Step, 15*time.Minute)
}

// CycleTime returns the configured cadence in milliseconds.
func (c Cycle) CycleTime() int {
	if c.CycleTimeMs == nil {
		return engine.DefaultCycleTime
	}
	return *c.CycleTimeMs
}

// ApplyDefaults fills the unset tunables of one battery.
func (b *Battery) ApplyDefaults() {
	bd := battery.DefaultConfig()
	sd := simulator.DefaultBatteryConfig()
	if b.StartStop == "" {
		b.StartStop = string(bd.StartStop)
	}
	if b.StatusRollup == "" {
		b.StatusRollup = "strict"
	}
	setDuration(&b.SettleTimeout, bd.SettleTimeout)
	setDuration(&b.StartSettle, bd.StartSettle)
	setDuration(&b.StopSettle, bd.StopSettle)
	setDuration(&b.MaxStartTime, bd.MaxStartTime)
	setDuration(&b.MaxStopTime, bd.MaxStopTime)
	setDuration(&b.RetryWindow, bd.RetryWindow)
	if b.MaxRetries == nil {
		n := bd.MaxRetries
		b.MaxRetries = &n
	}
	if b.Simulator.CapacityWh == 0 {
		b.Simulator.CapacityWh = sd.CapacityWh
	}
	if b.Simulator.MaxPowerW == 0 {
		b.Simulator.MaxPowerW = sd.MaxPowerW
	}
	if b.Simulator.InitialSoc == nil {
		soc := sd.InitialSoc
		b.Simulator.InitialSoc = &soc
	}
	setDuration(&b.Simulator.InterlockDelay, sd.InterlockDelay)
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// BatteryConfig converts b to the state-machine tunables.
func (b Battery) BatteryConfig() battery.Config {
	cfg := battery.Config{
		StartStop:     battery.StartStopMode(b.StartStop),
		SettleTimeout: b.SettleTimeout.Std(),
		StartSettle:   b.StartSettle.Std(),
		StopSettle:    b.StopSettle.Std(),
		MaxStartTime:  b.MaxStartTime.Std(),
		MaxStopTime:   b.MaxStopTime.Std(),
		RetryWindow:   b.RetryWindow.Std(),
		StatusRollup:  channel.RollupStrict,
	}
	if b.MaxRetries != nil {
		cfg.MaxRetries = *b.MaxRetries
	}
	if b.StatusRollup == "compat" {
		cfg.StatusRollup = channel.RollupCompat
	}
	return cfg
}

// SimulatorConfig converts the simulator section.
func (b Battery) SimulatorConfig() simulator.BatteryConfig {
	cfg := simulator.BatteryConfig{
		CapacityWh:     b.Simulator.CapacityWh,
		MaxPowerW:      b.Simulator.MaxPowerW,
		InterlockDelay: b.Simulator.InterlockDelay.Std(),
	}
	if b.Simulator.InitialSoc != nil {
		cfg.InitialSoc = *b.Simulator.InitialSoc
	}
	return cfg
}

// ControllerIDs returns every configured controller ID in declaration
// order, balancing first.
func (c *Config) ControllerIDs() []string {
	var ids []string
	for _, b := range c.Controllers.Balancing {
		ids = append(ids, b.ID)
	}
	for _, s := range c.Controllers.StartStop {
		ids = append(ids, s.ID)
	}
	return ids
}

// RestartRequired reports whether next differs from c in anything other
// than the cycle time, which can be applied at runtime.
func (c *Config) RestartRequired(next *Config) bool {
	a, b := *c, *next
	a.Cycle.CycleTimeMs, b.Cycle.CycleTimeMs = nil, nil
	a.Hash, b.Hash = "", ""
	return !reflect.DeepEqual(a, b)
}
