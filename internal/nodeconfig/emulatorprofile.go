package nodeconfig

import (
	"os"

	"github.com/fieldnode/nodecore"
	"gopkg.in/yaml.v3"
)

// EmulatorProfile describes a simulated bus topology for the host emulator:
// which nodes exist, what address each answers to on the bus, and which
// function records to seed them with before the emulator starts publishing
// traffic. It has no on-device equivalent — real nodes load Config only.
type EmulatorProfile struct {
	Nodes []EmulatorNode `yaml:"nodes"`
}

// EmulatorNode is one simulated node in an EmulatorProfile.
type EmulatorNode struct {
	Name        string           `yaml:"name"`
	BusAddress  uint8            `yaml:"bus_address"`
	ShortAddr   uint16           `yaml:"short_address"`
	Peripherals []string         `yaml:"peripherals"`
	Functions   []EmulatorRecord `yaml:"functions"`
}

// EmulatorRecord seeds one function record on an emulated node. Settings are
// left as a raw map and decoded by the function package once the kind is
// known, rather than duplicating every settings struct's YAML shape here.
type EmulatorRecord struct {
	Name     string                 `yaml:"name"`
	Kind     string                 `yaml:"kind"`
	Settings map[string]interface{} `yaml:"settings"`
}

// LoadEmulatorProfile reads a development-profile YAML file, the same
// direct yaml.Unmarshal approach the teacher's YamlFeeder falls back to for
// non-struct-pointer targets (feeders/yaml.go's feedWithTracking).
func LoadEmulatorProfile(path string) (EmulatorProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EmulatorProfile{}, nodecore.NewError(nodecore.KindInvalidParameter, "read emulator profile: "+err.Error())
	}
	var profile EmulatorProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return EmulatorProfile{}, nodecore.NewError(nodecore.KindInvalidParameter, "decode emulator profile: "+err.Error())
	}
	return profile, nil
}
