package process

import (
	"os"
	"sort"
	"strings"
)

// buildEnv computes the child's environment. When the process inherits,
// the ambient environment forms the base and user-supplied entries
// override it; otherwise only the user-supplied map is used. A nil result
// means "inherit everything as-is".
func (p *Process) buildEnv() []string {
	if p.env == nil && p.inheritEnv {
		return nil
	}
	merged := make(map[string]string)
	if p.inheritEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				merged[k] = v
			}
		}
	}
	for k, v := range p.env {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
