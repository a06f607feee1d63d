package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileNames are the config file names looked up in the workspace root, in order.
var FileNames = []string{"dotnav.yml", "dotnav.yaml"}

// Config holds workspace-level settings loaded from dotnav.yml.
type Config struct {
	Cache       CacheConfig       `yaml:"cache"`
	Index       IndexConfig       `yaml:"index"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Traversal   TraversalConfig   `yaml:"traversal"`
	Mappings    MappingsConfig    `yaml:"mappings"`
	Conventions ConventionsConfig `yaml:"conventions"`
}

// CacheConfig controls the two-tier result cache.
type CacheConfig struct {
	// File is the durable cache file, relative to the workspace root unless absolute.
	File       string        `yaml:"file" validate:"required"`
	DefaultTTL time.Duration `yaml:"defaultTTL" validate:"gt=0"`
	PromoteTTL time.Duration `yaml:"promoteTTL" validate:"gt=0"`
	// Staleness is the age after which durable entries are treated as absent.
	Staleness time.Duration `yaml:"staleness" validate:"gt=0"`
}

// IndexConfig selects the symbol/reference index backend.
type IndexConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory kuzu"`
	// Path is where serve persists the index for offline queries.
	Path string `yaml:"path" validate:"required"`
}

// WorkspaceConfig controls source discovery.
type WorkspaceConfig struct {
	Exclude          []string `yaml:"exclude,omitempty"`
	RespectGitignore bool     `yaml:"respectGitignore"`
	ParseWorkers     int      `yaml:"parseWorkers" validate:"gte=1,lte=64"`
}

// TraversalConfig holds the call-graph defaults used when a request omits them.
type TraversalConfig struct {
	CallersMaxDepth int  `yaml:"callersMaxDepth" validate:"gte=1"`
	CallersLimit    int  `yaml:"callersLimit" validate:"gte=1"`
	CalleesMaxDepth int  `yaml:"calleesMaxDepth" validate:"gte=1"`
	CalleesLimit    int  `yaml:"calleesLimit" validate:"gte=1"`
	FollowHandlers  bool `yaml:"followHandlers"`
}

// MappingsConfig controls the request/handler mapping index.
type MappingsConfig struct {
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`
}

// ConventionsConfig names the framework types and members that drive edge
// classification and endpoint detection.
type ConventionsConfig struct {
	MediatorSenders   []string          `yaml:"mediatorSenders" validate:"min=1"`
	DispatchMethods   []string          `yaml:"dispatchMethods" validate:"min=1"`
	HandlerInterfaces []string          `yaml:"handlerInterfaces" validate:"min=1"`
	HandlerMethod     string            `yaml:"handlerMethod" validate:"required"`
	ORMNamespace      string            `yaml:"ormNamespace" validate:"required"`
	SequenceNamespace string            `yaml:"sequenceNamespace" validate:"required"`
	ReadVerbs         []string          `yaml:"readVerbs"`
	WriteVerbs        map[string]string `yaml:"writeVerbs"`
	ControllerSuffix  string            `yaml:"controllerSuffix" validate:"required"`
	ControllerBases   []string          `yaml:"controllerBases" validate:"min=1"`
	HTTPAttributes    map[string]string `yaml:"httpAttributes"`
	ExternalClients   []string          `yaml:"externalClients"`
	KnownNamespaces   map[string]string `yaml:"knownNamespaces"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			File:       filepath.Join(".dotnav", "cache.json"),
			DefaultTTL: time.Hour,
			PromoteTTL: 30 * time.Minute,
			Staleness:  24 * time.Hour,
		},
		Index: IndexConfig{
			Backend: "memory",
			Path:    filepath.Join(".dotnav", "index"),
		},
		Workspace: WorkspaceConfig{
			Exclude:          []string{"**/bin/**", "**/obj/**", "**/node_modules/**"},
			RespectGitignore: true,
			ParseWorkers:     8,
		},
		Traversal: TraversalConfig{
			CallersMaxDepth: 5,
			CallersLimit:    100,
			CalleesMaxDepth: 5,
			CalleesLimit:    200,
		},
		Mappings: MappingsConfig{TTL: 6 * time.Hour},
		Conventions: ConventionsConfig{
			MediatorSenders:   []string{"ISender", "IMediator"},
			DispatchMethods:   []string{"Send"},
			HandlerInterfaces: []string{"IRequestHandler"},
			HandlerMethod:     "Handle",
			ORMNamespace:      "Microsoft.EntityFrameworkCore",
			SequenceNamespace: "System.Linq",
			ReadVerbs:         []string{"ToListAsync", "FirstOrDefaultAsync", "SingleOrDefaultAsync", "AnyAsync", "CountAsync"},
			WriteVerbs: map[string]string{
				"Add":    "INSERT",
				"Update": "UPDATE",
				"Remove": "DELETE",
			},
			ControllerSuffix: "Controller",
			ControllerBases:  []string{"Controller", "ControllerBase"},
			HTTPAttributes: map[string]string{
				"HttpGet":    "GET",
				"HttpPost":   "POST",
				"HttpPut":    "PUT",
				"HttpDelete": "DELETE",
				"HttpPatch":  "PATCH",
			},
			ExternalClients: []string{"HttpClient"},
			KnownNamespaces: map[string]string{
				"DbContext":  "Microsoft.EntityFrameworkCore",
				"DbSet":      "Microsoft.EntityFrameworkCore",
				"ISender":    "MediatR",
				"IMediator":  "MediatR",
				"IPublisher": "MediatR",
				"HttpClient": "System.Net.Http",
				"Enumerable": "System.Linq",
				"Queryable":  "System.Linq",
				"IQueryable": "System.Linq",
				"ILogger":    "Microsoft.Extensions.Logging",
				"Task":       "System.Threading.Tasks",
				"Console":    "System",
			},
		},
	}
}

var validate = validator.New()

// Load reads dotnav.yml or dotnav.yaml from dir and overlays it on Default.
// A missing file yields the defaults, not an error.
func Load(dir string) (*Config, error) {
	cfg := Default()
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		break
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct constraints declared on Config.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CachePath resolves the durable cache file against root.
func (c *Config) CachePath(root string) string {
	return resolve(root, c.Cache.File)
}

// IndexPath resolves the persisted index directory against root.
func (c *Config) IndexPath(root string) string {
	return resolve(root, c.Index.Path)
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
