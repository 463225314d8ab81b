// internal/batch/script.go
package batch

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"eink-power-cli/internal/command"
)

// Step is one command of a batch
type Step struct {
	Command string        `yaml:"command"`
	Delay   time.Duration `yaml:"delay"`
	Repeat  int           `yaml:"repeat"`
}

// Script is a sequence of registry commands
type Script struct {
	Name            string        `yaml:"name"`
	ContinueOnError bool          `yaml:"continue_on_error"`
	Delay           time.Duration `yaml:"delay"`
	Steps           []Step        `yaml:"steps"`
}

// Load reads a script file. .yaml and .yml files are decoded as YAML; any
// other file holds one command per line with # comments.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		script, err := ParseLines(data)
		if err != nil {
			return nil, err
		}
		script.Name = filepath.Base(path)
		return script, nil
	}
}

// ParseYAML decodes a YAML script
func ParseYAML(data []byte) (*Script, error) {
	var script Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&script); err != nil {
		return nil, fmt.Errorf("failed to parse batch YAML: %w", err)
	}
	if len(script.Steps) == 0 {
		return nil, fmt.Errorf("batch has no steps")
	}
	for i, step := range script.Steps {
		if strings.TrimSpace(step.Command) == "" {
			return nil, fmt.Errorf("step %d: command is required", i+1)
		}
		if step.Delay < 0 || step.Repeat < 0 {
			return nil, fmt.Errorf("step %d: delay and repeat must not be negative", i+1)
		}
	}
	if script.Delay < 0 {
		return nil, fmt.Errorf("delay must not be negative")
	}
	return &script, nil
}

// ParseLines reads one command per line
func ParseLines(data []byte) (*Script, error) {
	script := &Script{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		script.Steps = append(script.Steps, Step{Command: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch lines: %w", err)
	}
	if len(script.Steps) == 0 {
		return nil, fmt.Errorf("batch has no steps")
	}
	return script, nil
}

// Validate resolves every step so a typo fails before anything is sent
func (s *Script) Validate(registry *command.Registry) error {
	for i, step := range s.Steps {
		if _, err := registry.ResolveLine(step.Command); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}
