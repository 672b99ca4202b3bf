package pipeline

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseDefinition decodes and validates a YAML pipeline definition. The text
// must already be secret-resolved: every ${...} token is expanded before the
// loader runs.
func ParseDefinition(name string, data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, conveyorerrors.NewParseError(name, extractLine(err), err)
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
