package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	envVarPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	sshGitPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+:[a-zA-Z0-9._/~-]+$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("env_var", func(fl validator.FieldLevel) bool {
			return envVarPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("hash_algo", func(fl validator.FieldLevel) bool {
			value := fl.Field().String()
			for _, algo := range HashAlgorithms {
				if algo == value {
					return true
				}
			}
			return false
		})

		_ = v.RegisterValidation("port_range", func(fl validator.FieldLevel) bool {
			_, _, ok := ParsePortRange(fl.Field().String())
			return ok
		})

		_ = v.RegisterValidation("git_url", func(fl validator.FieldLevel) bool {
			return IsValidGitURL(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// IsValidEnvVarName reports whether name can be used as an environment variable.
func IsValidEnvVarName(name string) bool {
	return envVarPattern.MatchString(name)
}

// IsValidGitURL accepts http(s), ssh, git and file URLs, scp-style
// user@host:path references and absolute local paths.
func IsValidGitURL(raw string) bool {
	if sshGitPattern.MatchString(raw) || filepath.IsAbs(raw) {
		return true
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return false
	}
	switch parsed.Scheme {
	case "http", "https", "ssh", "git":
		return parsed.Host != ""
	case "file":
		return parsed.Path != ""
	default:
		return false
	}
}

// ParsePortRange parses "LOWER-UPPER" into its bounds.
func ParsePortRange(s string) (int, int, bool) {
	pieces := strings.Split(s, "-")
	if len(pieces) != 2 {
		return 0, 0, false
	}
	lower, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
	if err != nil {
		return 0, 0, false
	}
	upper, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
	if err != nil {
		return 0, 0, false
	}
	if lower <= 0 || upper <= 0 || lower > upper || upper > 65535 {
		return 0, 0, false
	}
	return lower, upper, true
}

// ValidateProject performs schema and cross-field validation on the project.
func ValidateProject(project *Project) error {
	if project == nil {
		return kapselerrors.NewValidationError("project", "project is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(project); err != nil {
		return convertValidationError(err)
	}

	specs := make(map[string]struct{}, len(project.EnvSpecs))
	for i, spec := range project.EnvSpecs {
		if _, exists := specs[spec.Name]; exists {
			return kapselerrors.NewValidationError(fieldFor(SectionEnvSpecs, i, "name"), fmt.Sprintf("duplicate env spec %q", spec.Name), nil)
		}
		specs[spec.Name] = struct{}{}
	}

	commands := make(map[string]struct{}, len(project.Commands))
	for i, cmd := range project.Commands {
		if _, exists := commands[cmd.Name]; exists {
			return kapselerrors.NewValidationError(fieldFor(SectionCommands, i, "name"), fmt.Sprintf("duplicate command %q", cmd.Name), nil)
		}
		commands[cmd.Name] = struct{}{}
		if cmd.EnvSpec != "" {
			if _, ok := specs[cmd.EnvSpec]; !ok {
				return kapselerrors.NewValidationError(fieldFor(SectionCommands, i, "env_spec"), fmt.Sprintf("references unknown env spec %q", cmd.EnvSpec), nil)
			}
		}
	}

	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return kapselerrors.NewValidationError(field, msg, err)
	}

	return kapselerrors.NewValidationError("project", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		// drop the root struct name
		parts = parts[1:]
	}
	lowered := make([]string, 0, len(parts))
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func fieldFor(section string, index int, field string) string {
	return fmt.Sprintf("%s[%d].%s", section, index, field)
}
