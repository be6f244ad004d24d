package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/conneroisu/modserve/internal/plugins"
	"github.com/conneroisu/modserve/internal/types"
)

var styleExtensions = map[string]struct{}{
	".css": {},
}

// IsStyleFile reports whether a path denotes a style module.
func IsStyleFile(p string) bool {
	_, ok := styleExtensions[path.Ext(p)]
	return ok
}

// NewCSS returns the plugin that wraps style files into runtime-loadable JS
// modules. The generated module injects a style tag keyed by module id,
// replaces its content on re-execution, and declares itself self-accepting
// so a style edit hot-swaps without touching importers.
func NewCSS() plugins.Plugin {
	return plugins.Plugin{
		Name: "css",
		Transform: func(ctx context.Context, code, id string) (*types.TransformResult, error) {
			if !IsStyleFile(id) {
				return nil, nil
			}

			cssText, err := json.Marshal(code)
			if err != nil {
				return nil, err
			}
			idText, err := json.Marshal(id)
			if err != nil {
				return nil, err
			}

			module := fmt.Sprintf(`const id = %s;
const css = %s;
let style = document.querySelector('style[data-modserve-id=' + JSON.stringify(id) + ']');
if (!style) {
  style = document.createElement('style');
  style.setAttribute('data-modserve-id', id);
  document.head.appendChild(style);
}
style.textContent = css;
export default css;
if (import.meta.hot) {
  import.meta.hot.accept();
}
`, idText, cssText)

			return &types.TransformResult{Code: module}, nil
		},
	}
}
