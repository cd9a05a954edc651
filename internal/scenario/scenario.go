package scenario

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	parleyErrors "github.com/harunnryd/parley/internal/errors"

	"gopkg.in/yaml.v3"
)

// Kind is the type of conversation being practised.
type Kind string

const (
	KindColdCall    Kind = "cold_call"
	KindDiscovery   Kind = "discovery"
	KindDemo        Kind = "demo"
	KindNegotiation Kind = "negotiation"
	KindRenewal     Kind = "renewal"
)

func (k Kind) Valid() bool {
	_, ok := kindGuidance[k]
	return ok
}

type Scenario struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Kind        Kind   `yaml:"kind"`
	Persona     string `yaml:"persona"`
	Voice       string `yaml:"voice"`
	Adversarial bool   `yaml:"adversarial"`
	Description string `yaml:"description"`
	Objective   string `yaml:"objective"`
}

func (s Scenario) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return parleyErrors.InvalidInput("scenario id is required")
	}
	if !s.Kind.Valid() {
		return parleyErrors.InvalidInput(fmt.Sprintf("scenario %s: unknown kind %q", s.ID, s.Kind))
	}
	if strings.TrimSpace(s.Persona) == "" {
		return parleyErrors.InvalidInput(fmt.Sprintf("scenario %s: persona is required", s.ID))
	}
	return nil
}

type catalogFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Catalog holds the scenarios a session can be started with.
type Catalog struct {
	mu        sync.RWMutex
	scenarios map[string]Scenario
}

// NewCatalog returns a catalog holding the built-in scenarios.
func NewCatalog() *Catalog {
	c := &Catalog{scenarios: make(map[string]Scenario)}
	for _, s := range builtins {
		c.scenarios[s.ID] = s
	}
	return c
}

// LoadCatalog returns the built-ins overlaid with the scenarios in path.
// An empty path yields the built-ins only.
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog()
	if path == "" {
		return c, nil
	}
	if err := c.LoadFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile adds or replaces scenarios from a YAML file.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return parleyErrors.NotFound(fmt.Sprintf("scenario file %s", path))
	}
	if err != nil {
		return fmt.Errorf("read scenario file %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse scenario file %s: %w", path, parleyErrors.WithCategory(err, parleyErrors.ErrInvalidInput))
	}

	for _, s := range file.Scenarios {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("scenario file %s: %w", path, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range file.Scenarios {
		c.scenarios[s.ID] = s
	}

	slog.Info("Scenarios loaded", "count", len(file.Scenarios), "path", path)
	return nil
}

func (c *Catalog) Get(id string) (Scenario, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.scenarios[id]
	if !ok {
		return Scenario{}, parleyErrors.NotFound(fmt.Sprintf("scenario %q", id))
	}
	return s, nil
}

// List returns every scenario sorted by ID.
func (c *Catalog) List() []Scenario {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Scenario, 0, len(c.scenarios))
	for _, s := range c.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var builtins = []Scenario{
	{
		ID:          "cold-call",
		Name:        "Cold call",
		Kind:        KindColdCall,
		Persona:     "Dana, operations manager at a mid-sized logistics company",
		Voice:       "alloy",
		Adversarial: true,
		Description: "Dana did not expect the call and is in the middle of a busy shift.",
		Objective:   "Earn a follow-up meeting within the first few minutes.",
	},
	{
		ID:          "discovery",
		Name:        "Discovery call",
		Kind:        KindDiscovery,
		Persona:     "Priya, head of finance at a software startup",
		Voice:       "shimmer",
		Description: "Priya booked the call after a webinar and wants to understand the product.",
		Objective:   "Uncover the budget, the decision process and the real pain.",
	},
	{
		ID:          "demo",
		Name:        "Product demo",
		Kind:        KindDemo,
		Persona:     "Marcus, IT lead at a regional hospital group",
		Voice:       "echo",
		Description: "Marcus has seen two competitor demos this week.",
		Objective:   "Tie the product to Marcus's stated requirements.",
	},
	{
		ID:          "negotiation",
		Name:        "Price negotiation",
		Kind:        KindNegotiation,
		Persona:     "Elena, procurement director at a retail chain",
		Voice:       "sage",
		Adversarial: true,
		Description: "Elena has a competing quote that is 20% cheaper.",
		Objective:   "Close the deal without discounting more than 10%.",
	},
	{
		ID:          "renewal",
		Name:        "Renewal at risk",
		Kind:        KindRenewal,
		Persona:     "Tom, customer success lead at an e-commerce company",
		Voice:       "verse",
		Adversarial: true,
		Description: "Tom's team has had three outages this quarter and usage is down.",
		Objective:   "Save the renewal and agree on a recovery plan.",
	},
}
