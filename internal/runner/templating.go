package runner

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"

	"steadytls/internal/executor"
	"steadytls/internal/target"
)

// TemplateEngine handles parsing and executing templates
type TemplateEngine struct {
	fileCache map[string][]string
	mu        sync.RWMutex
	funcMap   template.FuncMap
}

// TemplateData is passed to the execution context
type TemplateData struct {
	VU        int
	Iteration int
	UUID      string
	RunID     string
}

// NewTemplateEngine initializes the engine and its functions
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		fileCache: make(map[string][]string),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.randomUUID,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
	}

	return e
}

// Preprocess converts the short variables ({{vu}}, {{iteration}}, {{uuid}},
// {{runID}}) to field access on TemplateData.
func (e *TemplateEngine) Preprocess(input string) string {
	return strings.NewReplacer(
		"{{vu}}", "{{.VU}}",
		"{{iteration}}", "{{.Iteration}}",
		"{{uuid}}", "{{.UUID}}",
		"{{runID}}", "{{.RunID}}",
	).Replace(input)
}

// Parse creates a new template with the engine's functions
func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(e.funcMap).Option("missingkey=error").Parse(e.Preprocess(text))
}

// Execute runs the template with data
func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *TemplateEngine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return rand.Intn(max-min) + min
}

func (e *TemplateEngine) randomUUID() string {
	return uuid.New().String()
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.Intn(len(choices))]
}

func (e *TemplateEngine) randomLine(filename string) (string, error) {
	e.mu.RLock()
	lines, ok := e.fileCache[filename]
	e.mu.RUnlock()
	if !ok {
		var err error
		if lines, err = e.loadLines(filename); err != nil {
			return "", err
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[rand.Intn(len(lines))], nil
}

func (e *TemplateEngine) loadLines(filename string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if lines, ok := e.fileCache[filename]; ok {
		return lines, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s': %w", filename, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	var loaded []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			loaded = append(loaded, line)
		}
	}
	e.fileCache[filename] = loaded
	return loaded, nil
}

// requestTemplate renders the per-iteration request. When neither headers
// nor body contain template actions the same Request is returned every time.
type requestTemplate struct {
	engine *TemplateEngine
	method string
	url    *url.URL
	close  bool

	static  *executor.Request
	headers map[string]*template.Template
	body    *template.Template
}

func isTemplate(s string) bool { return strings.Contains(s, "{{") }

func newRequestTemplate(e *TemplateEngine, t target.Config, u *url.URL, closeConn bool) (*requestTemplate, error) {
	rt := &requestTemplate{
		engine: e,
		method: t.EffectiveMethod(),
		url:    u,
		close:  closeConn,
	}

	dynamic := isTemplate(t.Body)
	for _, v := range t.Headers {
		if isTemplate(v) {
			dynamic = true
		}
	}
	if !dynamic {
		rt.static = rt.request(staticHeader(t.Headers), []byte(t.Body))
		return rt, nil
	}

	rt.headers = make(map[string]*template.Template, len(t.Headers))
	for k, v := range t.Headers {
		tpl, err := e.Parse("header "+k, v)
		if err != nil {
			return nil, fmt.Errorf("parse header %q: %w", k, err)
		}
		rt.headers[k] = tpl
	}
	if t.Body != "" {
		tpl, err := e.Parse("body", t.Body)
		if err != nil {
			return nil, fmt.Errorf("parse body: %w", err)
		}
		rt.body = tpl
	}
	return rt, nil
}

func staticHeader(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

func (rt *requestTemplate) request(h http.Header, body []byte) *executor.Request {
	return &executor.Request{
		Method: rt.method,
		URL:    rt.url,
		Header: h,
		Body:   body,
		Close:  rt.close,
	}
}

func (rt *requestTemplate) render(data TemplateData) (*executor.Request, error) {
	if rt.static != nil {
		return rt.static, nil
	}
	h := make(http.Header, len(rt.headers))
	for k, tpl := range rt.headers {
		v, err := rt.engine.Execute(tpl, data)
		if err != nil {
			return nil, fmt.Errorf("render header %q: %w", k, err)
		}
		h.Set(k, v)
	}
	var body []byte
	if rt.body != nil {
		s, err := rt.engine.Execute(rt.body, data)
		if err != nil {
			return nil, fmt.Errorf("render body: %w", err)
		}
		body = []byte(s)
	}
	return rt.request(h, body), nil
}
