// Package config loads otcalign settings from TOML.
//
// Values start from Default, are overlaid by the first config file found
// (an explicit path, ~/.config/otcalign/config.toml, then ./otcalign.toml),
// and are then normalized and validated. `otcalign config init` writes the
// embedded sample file.
package config
