package file

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"netmon/pkg/plugin"
)

// FileOutput appends one line per point:
// unix_seconds,measurement,field=value,...
type FileOutput struct {
	name string
	path string
	mu   sync.Mutex
	file *os.File
}

func init() {
	plugin.RegisterOutput("file", New)
}

func New(cfg plugin.OutputConfig) (plugin.Output, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file output needs a path")
	}
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "file"
	}
	return &FileOutput{name: name, path: cfg.Path, file: f}, nil
}

func (o *FileOutput) Name() string { return o.name }
func (o *FileOutput) Start() error { return nil }

func (o *FileOutput) Write(_ context.Context, p plugin.Point) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.file.WriteString(formatLine(p)); err != nil {
		return fmt.Errorf("append %s: %w", o.path, err)
	}
	return nil
}

func (o *FileOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.file.Close()
}

func formatLine(p plugin.Point) string {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strconv.FormatInt(p.Time.Unix(), 10))
	b.WriteByte(',')
	b.WriteString(p.Measurement)
	for _, k := range keys {
		fmt.Fprintf(&b, ",%s=%.3f", k, p.Fields[k])
	}
	b.WriteByte('\n')
	return b.String()
}
