package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

// ProjectFilename is the project file looked up inside a project directory.
const ProjectFilename = "kapsel.yml"

// DefaultFixPasses bounds the problem-fixing loop run by LoadProject.
const DefaultFixPasses = 5

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseProject loads a project file from disk and decodes it without validation.
func ParseProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kapselerrors.NewParseError(path, 0, err)
	}

	var project Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, kapselerrors.NewParseError(path, extractLine(err), err)
	}

	return &project, nil
}

// LoadProject parses <dir>/kapsel.yml, applies automatic fixes in memory and
// validates the result.
func LoadProject(dir string) (*Project, error) {
	path := filepath.Join(dir, ProjectFilename)
	project, err := ParseProject(path)
	if err != nil {
		return nil, err
	}

	fixed, remaining := FixProblems(project, DefaultFixPasses)
	if len(remaining) > 0 {
		first := remaining[0]
		return nil, kapselerrors.NewValidationError(first.Field, first.Message, nil)
	}

	if err := ValidateProject(fixed); err != nil {
		return nil, err
	}

	return fixed, nil
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
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
