package config

const (
	defaultExpDir          = "./exp"
	defaultOTCToken        = "▁<star>"
	defaultPlaceholder     = "*"
	defaultBeamSize        = 8.0
	defaultMinActiveStates = 30
	defaultMaxActiveStates = 10000
	defaultSubsampling     = 4
	defaultAllowTruncate   = 3
	defaultNumWorkers      = 4
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultConfigPath      = "~/.config/otcalign/config.toml"
	defaultProjectConfig   = "otcalign.toml"
)

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Paths: Paths{
			ExpDir: defaultExpDir,
		},
		OTC: OTC{
			Token:            defaultOTCToken,
			Placeholder:      defaultPlaceholder,
			AllowBypassArc:   true,
			AllowSelfLoopArc: true,
		},
		Decoding: Decoding{
			BeamSize:          defaultBeamSize,
			MinActiveStates:   defaultMinActiveStates,
			MaxActiveStates:   defaultMaxActiveStates,
			SubsamplingFactor: defaultSubsampling,
			AllowTruncate:     defaultAllowTruncate,
			NumWorkers:        defaultNumWorkers,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
