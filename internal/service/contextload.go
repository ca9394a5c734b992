package service

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/forgeline/forgeline/internal/domain/forgeplan"
	"github.com/forgeline/forgeline/internal/workspace"
)

// fileContentTTL bounds staleness of cached file reads between cycles.
const fileContentTTL = 5 * time.Minute

// importPattern matches relative ES/CommonJS imports.
var importPattern = regexp.MustCompile(`(?:from|require\()\s*['"](\.{1,2}/[^'"]+)['"]`)

// resolveExtensions are tried in order when an import omits the extension.
var resolveExtensions = []string{"", ".ts", ".tsx", ".js", ".jsx", "/index.ts", "/index.tsx"}

// anchorFiles are always offered as candidates so the model sees the
// project's shape even when the plan names nothing useful.
var anchorFiles = []string{"package.json", "tsconfig.json"}

// ContextLoader assembles the file context handed to the implementation
// phase: the plan's files, their one-hop imports, and keyword-ranked extras,
// packed under a character budget. Loading never fails; whatever could be
// read is returned.
type ContextLoader struct {
	ws         *workspace.Manager
	cache      *ristretto.Cache[string, string]
	charBudget int
}

// NewContextLoader creates a ContextLoader with an in-process content cache
// of cacheMB megabytes.
func NewContextLoader(ws *workspace.Manager, cacheMB int64, charBudget int) (*ContextLoader, error) {
	maxCost := cacheMB * (1 << 20)
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxCost / 100 * 10, // ~10x expected items
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("context cache: %w", err)
	}
	return &ContextLoader{ws: ws, cache: cache, charBudget: charBudget}, nil
}

// Close releases the cache.
func (l *ContextLoader) Close() {
	l.cache.Close()
}

type contextFile struct {
	path    string
	content string
	score   int
}

// Load builds the context block for a task. Plan may be nil when planning
// failed; the loader then falls back to anchors alone.
func (l *ContextLoader) Load(plan *forgeplan.Plan, task string) string {
	seen := map[string]bool{}
	var files []contextFile

	add := func(path string, score int) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		content, ok := l.read(path)
		if !ok {
			return
		}
		files = append(files, contextFile{path: path, content: content, score: score})
	}

	if plan != nil {
		for _, p := range plan.Files() {
			add(p, 100)
		}
	}
	for _, p := range anchorFiles {
		add(p, 20)
	}

	// One-hop import expansion from the plan's files.
	for _, f := range files {
		if f.score < 100 {
			continue
		}
		for _, imp := range extractImports(f.path, f.content) {
			add(imp, 60)
		}
	}

	keywords := taskKeywords(task)
	for i := range files {
		files[i].score += keywordScore(files[i].path, files[i].content, keywords)
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].score > files[j].score })

	var b strings.Builder
	for _, f := range files {
		block := fmt.Sprintf("=== %s ===\n%s\n\n", f.path, f.content)
		if l.charBudget > 0 && b.Len()+len(block) > l.charBudget {
			continue
		}
		b.WriteString(block)
	}

	slog.Debug("context loaded", "files", len(files), "chars", b.Len())
	return b.String()
}

// read fetches file content through the cache.
func (l *ContextLoader) read(path string) (string, bool) {
	if cached, ok := l.cache.Get(path); ok {
		return cached, true
	}
	content, err := l.ws.ReadFile(path)
	if err != nil {
		return "", false
	}
	l.cache.SetWithTTL(path, content, int64(len(content)), fileContentTTL)
	return content, true
}

// extractImports resolves a file's relative imports to workspace paths.
func extractImports(fromPath, content string) []string {
	dir := filepath.Dir(fromPath)
	var out []string
	for _, m := range importPattern.FindAllStringSubmatch(content, -1) {
		base := filepath.Join(dir, m[1])
		for _, ext := range resolveExtensions {
			out = append(out, base+ext)
		}
	}
	return out
}

// taskKeywords splits the task text into lowercase words worth matching.
func taskKeywords(task string) []string {
	fields := strings.FieldsFunc(strings.ToLower(task), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 4 {
			out = append(out, f)
		}
	}
	return out
}

func keywordScore(path, content string, keywords []string) int {
	lowerPath := strings.ToLower(path)
	lowerContent := strings.ToLower(content)
	score := 0
	for _, k := range keywords {
		if strings.Contains(lowerPath, k) {
			score += 5
		}
		if strings.Contains(lowerContent, k) {
			score++
		}
	}
	return score
}
