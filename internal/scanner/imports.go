// Package scanner extracts module specifiers and hot-update pragmas from
// module source with lightweight pattern matching. It deliberately does not
// parse the language; the external Transformer owns real syntax, the scanner
// only needs import edges and accept declarations.
package scanner

import (
	"regexp"
	"strings"
)

// Import is one discovered module reference. Start and End are byte offsets
// of the specifier text (without quotes) within the scanned code, so callers
// can rewrite specifiers in place.
type Import struct {
	Specifier string
	Start     int
	End       int
	Dynamic   bool
}

var (
	// import defaultExport from '...', import { a, b } from '...',
	// import * as ns from '...', import '...'
	staticImportRe = regexp.MustCompile(`import\s*(?:[\w$]+\s*,?\s*)?(?:\{[^}]*\}\s*,?\s*)?(?:\*\s*as\s+[\w$]+\s*)?(?:from\s*)?["']([^"']+)["']`)
	// export { a } from '...', export * from '...'
	exportFromRe = regexp.MustCompile(`export\s+(?:\{[^}]*\}|\*(?:\s*as\s+[\w$]+)?)\s+from\s*["']([^"']+)["']`)
	// import('...')
	dynamicImportRe = regexp.MustCompile(`import\(\s*["']([^"']+)["']\s*\)`)

	// bare accept() or accept(callback) means the module replaces itself
	selfAcceptRe  = regexp.MustCompile(`import\.meta\.hot\.accept\(\s*(?:\)|\(|function\b|[\w$]+\s*=>)`)
	depAcceptRe   = regexp.MustCompile(`import\.meta\.hot\.accept\(\s*["']([^"']+)["']`)
	arrayAcceptRe = regexp.MustCompile(`import\.meta\.hot\.accept\(\s*\[([^\]]*)\]`)
	quotedRe      = regexp.MustCompile(`["']([^"']+)["']`)
)

// ScanImports returns every static, re-export, and dynamic import specifier
// in the code, in source order, with specifier offsets.
func ScanImports(code string) []Import {
	var imports []Import

	collect := func(re *regexp.Regexp, dynamic bool) {
		for _, m := range re.FindAllStringSubmatchIndex(code, -1) {
			start, end := m[2], m[3]
			imports = append(imports, Import{
				Specifier: code[start:end],
				Start:     start,
				End:       end,
				Dynamic:   dynamic,
			})
		}
	}

	collect(staticImportRe, false)
	collect(exportFromRe, false)
	collect(dynamicImportRe, true)

	// Dedupe positions: the static pattern can overlap a dynamic match.
	seen := make(map[int]struct{}, len(imports))
	out := imports[:0]
	for _, imp := range imports {
		if _, dup := seen[imp.Start]; dup {
			continue
		}
		seen[imp.Start] = struct{}{}
		out = append(out, imp)
	}

	sortByStart(out)
	return out
}

func sortByStart(imports []Import) {
	for i := 1; i < len(imports); i++ {
		for j := i; j > 0 && imports[j].Start < imports[j-1].Start; j-- {
			imports[j], imports[j-1] = imports[j-1], imports[j]
		}
	}
}

// Specifiers returns just the specifier strings of ScanImports, in order.
func Specifiers(code string) []string {
	imports := ScanImports(code)
	specs := make([]string, len(imports))
	for i, imp := range imports {
		specs[i] = imp.Specifier
	}
	return specs
}

// IsBareSpecifier reports whether a specifier references an external package:
// neither relative nor absolute, and not a URL scheme.
func IsBareSpecifier(specifier string) bool {
	if specifier == "" {
		return false
	}
	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") || strings.HasPrefix(specifier, "/") {
		return false
	}
	if strings.Contains(specifier, ":") {
		return false
	}
	return true
}

// ScanHotAccepts extracts the module's hot-update contract: the dependency
// specifiers it declares it can hot-swap, and whether it accepts updates to
// itself (a bare import.meta.hot.accept call).
func ScanHotAccepts(code string) (deps []string, self bool) {
	for _, m := range depAcceptRe.FindAllStringSubmatch(code, -1) {
		deps = append(deps, m[1])
	}
	for _, m := range arrayAcceptRe.FindAllStringSubmatch(code, -1) {
		for _, q := range quotedRe.FindAllStringSubmatch(m[1], -1) {
			deps = append(deps, q[1])
		}
	}
	if len(deps) == 0 && selfAcceptRe.MatchString(code) {
		self = true
	}
	return deps, self
}
