package pipeline

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

// ScriptCollector receives the declaration a pipeline script makes through
// the DSL globals and turns it into a validated Definition. Scripts declare
// data, not behavior: every helper is a pure constructor and the single
// pipeline(...) call records the result.
type ScriptCollector struct {
	spec     map[string]any
	declared bool
}

// NewScriptCollector creates an empty collector.
func NewScriptCollector() *ScriptCollector {
	return &ScriptCollector{}
}

// Definition returns the declared pipeline. It fails when the script never
// called pipeline(...) or declared one that does not validate.
func (c *ScriptCollector) Definition() (*Definition, error) {
	if !c.declared {
		return nil, conveyorerrors.NewValidationError("script", "script declared no pipeline", nil)
	}

	// The script's object literal round-trips through YAML so scripted and
	// file-based pipelines share one decoding and validation path.
	data, err := yaml.Marshal(c.spec)
	if err != nil {
		return nil, conveyorerrors.NewValidationError("script", fmt.Sprintf("pipeline declaration does not serialize: %v", err), nil)
	}
	return ParseDefinition("script", data)
}

// Globals returns the DSL surface installed into the script runtime.
func (c *ScriptCollector) Globals() map[string]any {
	step := func(name string, with map[string]any) map[string]any {
		out := map[string]any{"step": name}
		if len(with) > 0 {
			out["with"] = with
		}
		return out
	}

	return map[string]any{
		"pipeline": func(spec map[string]any) {
			c.spec = spec
			c.declared = true
		},

		"stage": func(name string, stepList []any, post ...map[string]any) map[string]any {
			out := map[string]any{"name": name, "steps": stepList}
			if len(post) > 0 && len(post[0]) > 0 {
				out["post"] = post[0]
			}
			return out
		},

		"branch": func(name string, stepList []any) map[string]any {
			return map[string]any{"name": name, "steps": stepList}
		},

		"parallelStage": func(name string, branches []any, post ...map[string]any) map[string]any {
			out := map[string]any{"name": name, "branches": branches}
			if len(post) > 0 && len(post[0]) > 0 {
				out["post"] = post[0]
			}
			return out
		},

		"step": step,

		"sh": func(command string) map[string]any {
			return step("sh", map[string]any{"command": command})
		},
		"shStdout": func(command string) map[string]any {
			return step("sh", map[string]any{"command": command, "returnStdout": true})
		},
		"echo": func(message string) map[string]any {
			return step("echo", map[string]any{"message": message})
		},
		"readFile": func(path string) map[string]any {
			return step("readFile", map[string]any{"path": path})
		},
		"writeFile": func(path, text string) map[string]any {
			return step("writeFile", map[string]any{"path": path, "text": text})
		},
		"fileExists": func(path string) map[string]any {
			return step("fileExists", map[string]any{"path": path})
		},
		"gitClone": func(with map[string]any) map[string]any {
			return step("gitClone", with)
		},
		"sleep": func(durationMs int64) map[string]any {
			return step("sleep", map[string]any{"durationMs": durationMs})
		},
		"fail": func(message string) map[string]any {
			return step("error", map[string]any{"message": message})
		},

		"dir": func(path string, body []any) map[string]any {
			return map[string]any{"step": "dir", "with": map[string]any{"path": path}, "body": body}
		},
		"retry": func(times int64, body []any) map[string]any {
			return map[string]any{"step": "retry", "with": map[string]any{"times": times}, "body": body}
		},
		"timeout": func(durationMs int64, body []any) map[string]any {
			return map[string]any{"step": "timeout", "with": map[string]any{"durationMs": durationMs}, "body": body}
		},
		"withCredentials": func(bindings []any, body []any) map[string]any {
			return map[string]any{"step": "withCredentials", "bindings": bindings, "body": body}
		},
		"parallel": func(branches []any) map[string]any {
			return map[string]any{"step": "parallel", "branches": branches}
		},

		"stringCredential": func(id, envVar string) map[string]any {
			return map[string]any{"type": "string", "id": id, "var": envVar}
		},
		"usernamePassword": func(id, userVar, passVar string) map[string]any {
			return map[string]any{"type": "userPassword", "id": id, "userVar": userVar, "passVar": passVar}
		},
		"fileCredential": func(id, envVar string) map[string]any {
			return map[string]any{"type": "file", "id": id, "var": envVar}
		},
		"sshKeyCredential": func(id, userVar, keyVar string) map[string]any {
			return map[string]any{"type": "sshKey", "id": id, "userVar": userVar, "keyVar": keyVar}
		},
		"certificateCredential": func(id, keystoreVar, passVar string) map[string]any {
			return map[string]any{"type": "certificate", "id": id, "keystoreVar": keystoreVar, "passVar": passVar}
		},
		"awsCredential": func(id, accessVar, secretVar string) map[string]any {
			return map[string]any{"type": "aws", "id": id, "accessVar": accessVar, "secretVar": secretVar}
		},
	}
}

// GlobalNames lists the DSL symbols, for the compilation config.
func (c *ScriptCollector) GlobalNames() []string {
	globals := c.Globals()
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
