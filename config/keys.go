package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// keyCommandsFile is the YAML layout of KEY_COMMANDS_FILE
type keyCommandsFile struct {
	Combos map[string]KeyCommand `yaml:"combos"`
}

// LoadKeyCommands reads key combos from a YAML file:
//
//	combos:
//	  focus:
//	    command: wmctrl -a Discord
//	    description: Bring the host window forward
func LoadKeyCommands(path string) (map[string]KeyCommand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key commands: %w", err)
	}

	var file keyCommandsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key commands: %w", err)
	}

	combos := make(map[string]KeyCommand, len(file.Combos))
	for name, cmd := range file.Combos {
		if strings.TrimSpace(cmd.Command) == "" {
			return nil, fmt.Errorf("key command %q has no command", name)
		}
		cmd.Name = name
		combos[name] = cmd
	}
	return combos, nil
}
