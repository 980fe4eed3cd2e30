package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/tubevault/backend/internal/pkg/errkind"
)

// StepFunc is the unit of work: it reads what it needs from the Context and
// returns a tagged result. Implementations must be idempotent; the system
// is at-least-once.
type StepFunc func(*Context) StepResult

// Step is a registration request. Source is the step's source text (or any
// caller-supplied content identifier); the version hash is derived from it,
// so the hash changes exactly when the source changes.
type Step struct {
	Name        string
	Deps        []string
	Fn          StepFunc
	Source      string
	Description string
}

type registeredStep struct {
	Step
	version string
}

// Registry holds the registered steps. Registration happens once at startup;
// afterwards the registry is read-only and safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]*registeredStep
}

func NewRegistry() *Registry {
	return &Registry{steps: map[string]*registeredStep{}}
}

// VersionHash is the stable short digest used for staleness detection: the
// first 12 hex characters of SHA-256 over the source text.
func VersionHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:12]
}

// Register adds a step. Duplicate names are a programmer error and are
// rejected; dependency names are validated lazily by ExecutionOrder so
// registration order does not matter.
func (r *Registry) Register(s Step) error {
	if s.Name == "" {
		return fmt.Errorf("pipeline: step name required: %w", errkind.ErrInvalidInput)
	}
	if s.Fn == nil {
		return fmt.Errorf("pipeline: step %q has no function: %w", s.Name, errkind.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[s.Name]; exists {
		return fmt.Errorf("pipeline: step %q already registered: %w", s.Name, errkind.ErrInvalidInput)
	}
	r.steps[s.Name] = &registeredStep{Step: s, version: VersionHash(s.Source)}
	return nil
}

func (r *Registry) MustRegister(s Step) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Version returns the registered version hash for a step.
func (r *Registry) Version(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[name]
	if !ok {
		return "", fmt.Errorf("pipeline: step %q: %w", name, errkind.ErrUnknownStep)
	}
	return s.version, nil
}

// Versions returns the name→version map for every registered step.
func (r *Registry) Versions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.steps))
	for name, s := range r.steps {
		out[name] = s.version
	}
	return out
}

// Names returns all registered step names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.steps))
	for name := range r.steps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) deps(name string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[name]
	if !ok {
		return nil, false
	}
	return s.Deps, true
}

func (r *Registry) fn(name string) (StepFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[name]
	if !ok {
		return nil, false
	}
	return s.Fn, true
}

// ExecutionOrder resolves the transitive dependency closure of targets and
// returns a deterministic topological order (ties broken by name). Unknown
// names and cycles are rejected before anything runs.
func (r *Registry) ExecutionOrder(targets []string) ([]string, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("pipeline: no target steps: %w", errkind.ErrInvalidInput)
	}

	// Expand to the transitive closure.
	closure := map[string]bool{}
	stack := append([]string(nil), targets...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if closure[name] {
			continue
		}
		deps, ok := r.deps(name)
		if !ok {
			return nil, fmt.Errorf("pipeline: step %q: %w", name, errkind.ErrUnknownStep)
		}
		closure[name] = true
		stack = append(stack, deps...)
	}

	// Kahn's algorithm with a sorted frontier for determinism.
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for name := range closure {
		deps, _ := r.deps(name)
		for _, d := range deps {
			if !closure[d] {
				continue
			}
			indegree[name]++
			dependents[d] = append(dependents[d], name)
		}
	}

	var frontier []string
	for name := range closure {
		if indegree[name] == 0 {
			frontier = append(frontier, name)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(closure))
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		order = append(order, name)

		changed := false
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
				changed = true
			}
		}
		if changed {
			sort.Strings(frontier)
		}
	}

	if len(order) != len(closure) {
		var cyclic []string
		for name := range closure {
			if indegree[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, fmt.Errorf("pipeline: cycle involving %v: %w", cyclic, errkind.ErrCircularDependency)
	}
	return order, nil
}
