// Package config implements the out-of-scope "text configuration file
// parser" spec §6 names, producing a redsocks.Config from a
// redsocks.conf-shaped TOML file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	redsocks "github.com/impostorkeanu/redsocks-go"
)

// fileFormat mirrors the on-disk shape: a single [base] table, one or
// more [[redsocks]] instance tables, and zero or more [[dnstc]] tables
// (spec §6).
type fileFormat struct {
	Base struct {
		Chroot     string `toml:"chroot"`
		User       string `toml:"user"`
		Group      string `toml:"group"`
		Redirector string `toml:"redirector"`
		LogDest    string `toml:"log_dest"`
		Debug      bool   `toml:"debug"`
		Daemon     bool   `toml:"daemon"`
	} `toml:"base"`

	Redsocks []struct {
		LocalIP            string `toml:"local_ip"`
		LocalPort          uint16 `toml:"local_port"`
		IP                 string `toml:"ip"`
		Port               uint16 `toml:"port"`
		Type               string `toml:"type"`
		Login              string `toml:"login"`
		Password           string `toml:"password"`
		Listenq            uint16 `toml:"listenq"`
		MinAcceptBackoffMs uint16 `toml:"min_accept_backoff"`
		MaxAcceptBackoffMs uint16 `toml:"max_accept_backoff"`
	} `toml:"redsocks"`

	DNSTC []struct {
		Addr string `toml:"addr"`
		Port uint16 `toml:"port"`
	} `toml:"dnstc"`
}

// defaultListenq and defaultBackoff bounds mirror the teacher repo's
// own habit of filling in sane defaults when a TOML field is absent
// (its zero value), rather than failing validation for every omitted
// knob.
const (
	defaultListenq = 128
	defaultMinMs   = 10
	defaultMaxMs   = 1000
)

// LoadFile reads and decodes path into a redsocks.Config, applying
// defaults for knobs the file omits, then validating the result.
func LoadFile(path string) (redsocks.Config, error) {
	var ff fileFormat
	if _, err := toml.DecodeFile(path, &ff); err != nil {
		return redsocks.Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := redsocks.Config{
		Base: redsocks.BaseConfig{
			Chroot:     ff.Base.Chroot,
			User:       ff.Base.User,
			Group:      ff.Base.Group,
			Redirector: redsocks.Redirector(ff.Base.Redirector),
			LogDest:    ff.Base.LogDest,
			Debug:      ff.Base.Debug,
			Daemon:     ff.Base.Daemon,
		},
	}

	for _, r := range ff.Redsocks {
		inst := redsocks.InstanceConfig{
			LocalIP:            r.LocalIP,
			LocalPort:          r.LocalPort,
			IP:                 r.IP,
			Port:               r.Port,
			Type:               redsocks.UpstreamType(r.Type),
			Login:              r.Login,
			Password:           r.Password,
			Listenq:            r.Listenq,
			MinAcceptBackoffMs: r.MinAcceptBackoffMs,
			MaxAcceptBackoffMs: r.MaxAcceptBackoffMs,
		}
		if inst.Listenq == 0 {
			inst.Listenq = defaultListenq
		}
		if inst.MinAcceptBackoffMs == 0 {
			inst.MinAcceptBackoffMs = defaultMinMs
		}
		if inst.MaxAcceptBackoffMs == 0 {
			inst.MaxAcceptBackoffMs = defaultMaxMs
		}
		cfg.Instances = append(cfg.Instances, inst)
	}

	for _, d := range ff.DNSTC {
		cfg.DNSTC = append(cfg.DNSTC, redsocks.DNSTCConfig{Addr: d.Addr, Port: d.Port})
	}

	if err := cfg.Validate(); err != nil {
		return redsocks.Config{}, err
	}
	return cfg, nil
}
