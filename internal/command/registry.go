// internal/command/registry.go
package command

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"eink-power-cli/internal/model"
)

// BuildFunc validates the arguments that follow a command path and renders the wire text
type BuildFunc func(path string, args []string) (wire string, gpio *model.GpioTarget, err error)

// Spec describes one logical command
type Spec struct {
	Path        string     `json:"path"`
	Usage       string     `json:"usage"`
	Description string     `json:"description"`
	Kind        model.Kind `json:"kind"`
	Disruptive  bool       `json:"disruptive,omitempty"`
	Build       BuildFunc  `json:"-"`
}

// Registry maps logical command paths to wire text and reply kind
type Registry struct {
	specs    map[string]*Spec
	maxDepth int
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRegistry creates an empty command registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		specs:  make(map[string]*Spec),
		logger: logger,
	}
}

// Register adds or replaces a command
func (r *Registry) Register(spec *Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := normalize(spec.Path)
	spec.Path = path
	if spec.Usage == "" {
		spec.Usage = path
	}
	if spec.Build == nil {
		spec.Build = fixed(path)
	}

	r.specs[path] = spec
	if depth := len(strings.Fields(path)); depth > r.maxDepth {
		r.maxDepth = depth
	}

	r.logger.Debug("Command registered",
		zap.String("path", path),
		zap.String("kind", string(spec.Kind)),
		zap.Bool("disruptive", spec.Disruptive),
	)
}

// Resolve matches the longest registered path prefix of tokens and builds the command.
// Nothing is sent to the device here.
func (r *Registry) Resolve(tokens []string) (*model.Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fields := make([]string, 0, len(tokens))
	for _, t := range tokens {
		fields = append(fields, strings.Fields(t)...)
	}
	if len(fields) == 0 {
		return nil, invalid("", "", "no command given")
	}

	depth := r.maxDepth
	if depth > len(fields) {
		depth = len(fields)
	}

	for n := depth; n > 0; n-- {
		path := strings.ToLower(strings.Join(fields[:n], " "))
		spec, exists := r.specs[path]
		if !exists {
			continue
		}

		args := fields[n:]
		wire, gpio, err := spec.Build(path, args)
		if err != nil {
			return nil, err
		}
		return &model.Command{
			Name:       path,
			Args:       args,
			Wire:       wire,
			Kind:       spec.Kind,
			Gpio:       gpio,
			Disruptive: spec.Disruptive,
		}, nil
	}

	return nil, invalid(strings.Join(fields, " "), "", "unknown command")
}

// ResolveLine splits a command line on whitespace and resolves it
func (r *Registry) ResolveLine(line string) (*model.Command, error) {
	return r.Resolve(strings.Fields(line))
}

// Lookup returns the spec registered for path
func (r *Registry) Lookup(path string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, exists := r.specs[normalize(path)]
	return spec, exists
}

// List returns all registered commands sorted by path
func (r *Registry) List() []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]*Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Path < specs[j].Path })
	return specs
}

// Children returns the distinct next tokens below a path prefix, e.g. "power" -> pmic, stats, ...
func (r *Registry) Children(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefix = normalize(prefix)
	depth := len(strings.Fields(prefix))

	seen := make(map[string]bool)
	for path := range r.specs {
		parts := strings.Fields(path)
		if len(parts) <= depth || (prefix != "" && strings.Join(parts[:depth], " ") != prefix) {
			continue
		}
		seen[parts[depth]] = true
	}

	children := make([]string, 0, len(seen))
	for c := range seen {
		children = append(children, c)
	}
	sort.Strings(children)
	return children
}

func normalize(path string) string {
	return strings.ToLower(strings.Join(strings.Fields(path), " "))
}

// fixed builds a command that takes no arguments and sends its path verbatim
func fixed(wire string) BuildFunc {
	return func(path string, args []string) (string, *model.GpioTarget, error) {
		if len(args) > 0 {
			return "", nil, invalid(path, args[0], "unexpected argument")
		}
		return wire, nil, nil
	}
}
