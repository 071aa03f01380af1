package bridge

import (
	"fmt"
	"hash/fnv"
	"path"
	"strings"
)

// Note marks a result as simulated.
const Note = "Simulated data: the file-operations bridge is not reachable"

// Result is a bridge response decoded as a JSON object.
type Result map[string]any

// Simulated reports whether r came from the Synthesizer.
func (r Result) Simulated() bool {
	_, ok := r["note"]
	return ok
}

// Synthesizer builds placeholder results from the path alone. The same
// operation and path always produce the same result.
type Synthesizer struct{}

var (
	sampleFiles = []string{
		"README.md", "main.go", "go.mod", "config.yaml", "Makefile",
		"index.ts", "package.json", "app.py", "Dockerfile", "LICENSE",
	}
	projectTypes = []struct {
		kind         string
		dirs         []string
		dependencies []string
	}{
		{"go", []string{"cmd", "internal", "pkg"}, []string{"github.com/spf13/cobra", "gopkg.in/yaml.v3"}},
		{"node", []string{"src", "public", "test"}, []string{"react", "typescript"}},
		{"python", []string{"src", "tests", "docs"}, []string{"requests", "pytest"}},
		{"rust", []string{"src", "benches", "tests"}, []string{"serde", "tokio"}},
	}
	languages = map[string]string{
		".go": "go", ".ts": "typescript", ".js": "javascript", ".py": "python",
		".rs": "rust", ".md": "markdown", ".json": "json", ".yaml": "yaml", ".yml": "yaml",
	}
)

func hashPath(p string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(p))
	return h.Sum32()
}

// Synthesize returns the placeholder result for op on p.
func (Synthesizer) Synthesize(op Operation, p string) Result {
	switch op {
	case OpListFiles:
		return listFiles(p)
	case OpReadFile:
		return readFile(p)
	default:
		return analyzeProject(p)
	}
}

func listFiles(dir string) Result {
	h := hashPath(dir)
	n := 3 + int(h%4)
	files := make([]map[string]any, 0, n+1)
	for i := 0; i < n; i++ {
		name := sampleFiles[(int(h>>3)+i*3)%len(sampleFiles)]
		files = append(files, map[string]any{
			"name": name,
			"path": path.Join(dir, name),
			"type": "file",
			"size": 128 + int((h>>uint(i))%4096),
		})
	}
	files = append(files, map[string]any{
		"name": "src",
		"path": path.Join(dir, "src"),
		"type": "directory",
	})
	return Result{
		"path":  dir,
		"files": files,
		"count": len(files),
		"note":  Note,
	}
}

func readFile(p string) Result {
	lang, ok := languages[strings.ToLower(path.Ext(p))]
	if !ok {
		lang = "text"
	}
	content := fmt.Sprintf("Simulated contents of %s\nchecksum: %08x\n", p, hashPath(p))
	return Result{
		"path":     p,
		"content":  content,
		"size":     len(content),
		"language": lang,
		"note":     Note,
	}
}

func analyzeProject(p string) Result {
	h := hashPath(p)
	pt := projectTypes[h%uint32(len(projectTypes))]
	dirs := append([]string(nil), pt.dirs...)
	deps := append([]string(nil), pt.dependencies...)
	return Result{
		"path": p,
		"type": pt.kind,
		"structure": map[string]any{
			"directories": dirs,
			"fileCount":   10 + int(h%90),
		},
		"dependencies": deps,
		"note":         Note,
	}
}
