// Package ifnames maps kernel interface names to the names users see in
// system settings.
package ifnames

import (
	"fmt"
	"os"
	"runtime"

	"howett.net/plist"
)

// SystemConfigurationPath is where macOS keeps its interface inventory.
const SystemConfigurationPath = "/Library/Preferences/SystemConfiguration/NetworkInterfaces.plist"

// Labels maps a BSD interface name (en0) to a user facing one (Wi-Fi).
type Labels map[string]string

type networkInterfaces struct {
	Interfaces []struct {
		BSDName string `plist:"BSD Name"`
		Info    struct {
			UserDefinedName string `plist:"UserDefinedName"`
		} `plist:"SCNetworkInterfaceInfo"`
	} `plist:"Interfaces"`
}

// Parse decodes a NetworkInterfaces.plist document in any plist format.
func Parse(data []byte) (Labels, error) {
	var doc networkInterfaces
	if _, err := plist.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding interface plist: %w", err)
	}

	labels := make(Labels, len(doc.Interfaces))
	for _, iface := range doc.Interfaces {
		if iface.BSDName == "" || iface.Info.UserDefinedName == "" {
			continue
		}
		if _, seen := labels[iface.BSDName]; seen {
			continue
		}
		labels[iface.BSDName] = iface.Info.UserDefinedName
	}
	return labels, nil
}

func Load(path string) (Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadSystem returns the labels of the running host. Only macOS keeps such
// an inventory; other platforms get an empty set.
func LoadSystem() (Labels, error) {
	if runtime.GOOS != "darwin" {
		return Labels{}, nil
	}
	return Load(SystemConfigurationPath)
}

// Display returns "en0 (Wi-Fi)" when a label is known and the bare name
// otherwise.
func (l Labels) Display(name string) string {
	if label, ok := l[name]; ok && label != name {
		return fmt.Sprintf("%s (%s)", name, label)
	}
	return name
}
