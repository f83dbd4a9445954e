// Package builder drives the external container builder: a set of
// templated commands (build/tag/pull/push/untag/platform) rendered
// against a fixed parameter set and run as subprocesses.
//
// It translates original_source/tplbuild/config.py's ClientCommand/
// ClientConfig and the client_build/tag_image/... methods of
// executor.py's BuildExecutor.
package builder

import (
	"strings"

	"github.com/msg555/tplbuild/internal/tplerr"
)

// Command is one templated external command: argv and an environment
// overlay, each entry subject to "{param}"-style substitution against
// a fixed parameter set.
//
// Substitution is deliberately not Go's text/template or Python's
// str.format: config.py's own docstring notes str.format was avoided
// "for security reasons" (arbitrary attribute/index access via format
// specifiers). Render here only ever does literal "{key}" replacement
// against a known map, so there's no such surface to begin with.
type Command struct {
	Args        []string          `yaml:"args"`
	Environment map[string]string `yaml:"environment,omitempty"`
}

// Render substitutes every "{key}" occurrence in Args and Environment
// values with params[key]. An unknown key is a configuration error
// rather than a silent no-op, matching _validate_command's validation
// pass (which renders with every expected key set to "" to catch
// format errors before the command ever runs).
func (c Command) Render(params map[string]string) (args []string, env []string, err error) {
	args = make([]string, len(c.Args))
	for i, a := range c.Args {
		rendered, rerr := renderSimple(a, params)
		if rerr != nil {
			return nil, nil, tplerr.Wrap(tplerr.KindConfiguration, rerr, "render command args")
		}
		args[i] = rendered
	}
	for k, v := range c.Environment {
		rendered, rerr := renderSimple(v, params)
		if rerr != nil {
			return nil, nil, tplerr.Wrap(tplerr.KindConfiguration, rerr, "render command environment")
		}
		env = append(env, k+"="+rendered)
	}
	return args, env, nil
}

// RenderTemplate applies the same "{key}" substitution Command.Render
// uses to a bare string. Used for the project config's image-name
// templates (base/stage/push name) so the whole repository has one
// templating dialect instead of Command's {param} style plus a second
// Jinja-like engine for names.
func RenderTemplate(s string, params map[string]string) (string, error) {
	return renderSimple(s, params)
}

// renderSimple replaces every "{key}" in s using params, erroring on
// any key not present in params (including the empty-string
// placeholder values _validate_command seeds for a validation pass).
// "{{" and "}}" escape to a single literal brace, str.format-style, so
// templates needing a literal brace (e.g. a Docker --format Go
// template embedded in a platform-detection command) can still be
// expressed without colliding with our own substitution syntax.
func renderSimple(s string, params map[string]string) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		switch s[i] {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			closeIdx := strings.IndexByte(s[i+1:], '}')
			if closeIdx < 0 {
				return "", tplerr.New(tplerr.KindConfiguration, "unterminated '{' in command template")
			}
			closeIdx += i + 1
			key := s[i+1 : closeIdx]
			val, ok := params[key]
			if !ok {
				return "", tplerr.New(tplerr.KindConfiguration, "unknown template parameter "+key)
			}
			b.WriteString(val)
			i = closeIdx + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", tplerr.New(tplerr.KindConfiguration, "unmatched '}' in command template")
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String(), nil
}

// validateCommand renders cmd against a placeholder value for each of
// params (every other key absent) to catch template errors eagerly,
// mirroring _validate_command.
func validateCommand(cmd *Command, params []string) error {
	if cmd == nil {
		return nil
	}
	placeholder := make(map[string]string, len(params))
	for _, p := range params {
		placeholder[p] = ""
	}
	if _, _, err := cmd.Render(placeholder); err != nil {
		return tplerr.Wrap(tplerr.KindConfiguration, err, "invalid command template")
	}
	return nil
}
