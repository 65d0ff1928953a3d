package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/sakerbuild/daemon/internal/daemonmodel"
)

// fileConfig is the on-disk shape of the YAML configuration file. Port and
// the boolean/string fields are read through viper (which layers env-var
// overrides and defaults on top); UserParameters is read separately,
// directly through yaml.v2, because viper's map decoding does not preserve
// key order and spec.md §3 requires user parameters to remain an ordered
// mapping.
type fileConfig struct {
	StorageDirectory       string         `mapstructure:"storageDirectory" yaml:"storageDirectory"`
	Port                   int            `mapstructure:"port" yaml:"port"`
	ThreadFactor           int            `mapstructure:"threadFactor" yaml:"threadFactor"`
	ActsAsServer           bool           `mapstructure:"actsAsServer" yaml:"actsAsServer"`
	ActsAsCluster          bool           `mapstructure:"actsAsCluster" yaml:"actsAsCluster"`
	ClusterMirrorDirectory string         `mapstructure:"clusterMirrorDirectory" yaml:"clusterMirrorDirectory"`
	ClusterConnectTo       []string      `mapstructure:"clusterConnectTo" yaml:"clusterConnectTo"`
	UserParameters         yaml.MapSlice `yaml:"userParameters"`
}

// envTCPPortVariable mirrors the teacher's MUTAGEN_DAEMON_TCP_PORT override,
// renamed for this daemon.
const envTCPPortVariable = "SAKER_DAEMON_TCP_PORT"

// Load builds a daemonmodel.LaunchParameters from flags, an optional YAML
// config file, and environment variable overrides, then validates it
// (spec.md §3's "connectToAsClusterAddresses requires acts-as-cluster"
// invariant is checked here — fast, local, as a *daemonmodel.ConfigurationError
// — rather than surfacing only once start() is called).
func Load(flags *Flags) (daemonmodel.LaunchParameters, error) {
	v := viper.New()
	v.SetEnvPrefix("SAKER_DAEMON")
	v.AutomaticEnv()

	if flags.ConfigFile != "" {
		v.SetConfigFile(flags.ConfigFile)
	} else {
		v.SetConfigName("sakerdaemon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/sakerbuild")
	}

	var fc fileConfig
	if err := v.ReadInConfig(); err == nil {
		if err := v.Unmarshal(&fc); err != nil {
			return daemonmodel.LaunchParameters{}, fmt.Errorf("unable to parse daemon configuration: %w", err)
		}
		if configPath := v.ConfigFileUsed(); configPath != "" {
			if err := loadOrderedUserParameters(configPath, &fc); err != nil {
				return daemonmodel.LaunchParameters{}, err
			}
		}
	} else if flags.ConfigFile != "" {
		// An explicitly-requested config file that can't be read is an error;
		// an absent default file is not.
		return daemonmodel.LaunchParameters{}, fmt.Errorf("unable to read daemon configuration file %s: %w", flags.ConfigFile, err)
	}

	params := daemonmodel.LaunchParameters{
		StorageDirectory:            firstNonEmpty(flags.StorageDirectory, fc.StorageDirectory),
		Port:                        flags.Port,
		ThreadFactor:                firstNonZero(flags.ThreadFactor, fc.ThreadFactor),
		ActsAsServer:                flags.ActsAsServer || fc.ActsAsServer,
		ActsAsCluster:               flags.ActsAsCluster || fc.ActsAsCluster,
		ClusterMirrorDirectory:      firstNonEmpty(flags.ClusterMirrorDirectory, fc.ClusterMirrorDirectory),
		ConnectToAsClusterAddresses: append(append([]string{}, flags.ClusterConnectTo...), fc.ClusterConnectTo...),
		UserParameters:              mapSliceToUserParameters(fc.UserParameters),
	}

	if portOverride, ok := os.LookupEnv(envTCPPortVariable); ok {
		port, err := strconv.Atoi(portOverride)
		if err != nil {
			return daemonmodel.LaunchParameters{}, fmt.Errorf("invalid %s value %q: %w", envTCPPortVariable, portOverride, err)
		}
		params.Port = port
	}

	if err := params.Validate(); err != nil {
		return daemonmodel.LaunchParameters{}, err
	}

	return params, nil
}

// loadOrderedUserParameters re-reads the config file's userParameters
// section directly with yaml.v2 so that key order survives, then stores it
// back onto fc (viper's own Unmarshal pass above will have already
// flattened it into an unordered map, so the field is recomputed here
// rather than trusted from the first pass).
func loadOrderedUserParameters(path string, fc *fileConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to re-read configuration file for ordered user parameters: %w", err)
	}
	var ordered struct {
		UserParameters yaml.MapSlice `yaml:"userParameters"`
	}
	if err := yaml.Unmarshal(raw, &ordered); err != nil {
		return fmt.Errorf("unable to parse ordered user parameters: %w", err)
	}
	fc.UserParameters = ordered.UserParameters
	return nil
}

func mapSliceToUserParameters(m yaml.MapSlice) daemonmodel.UserParameters {
	params := make(daemonmodel.UserParameters, 0, len(m))
	for _, item := range m {
		key, _ := item.Key.(string)
		value := fmt.Sprintf("%v", item.Value)
		params = append(params, daemonmodel.UserParameter{Key: key, Value: value})
	}
	return params
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
