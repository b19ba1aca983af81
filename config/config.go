// Package config loads hotswap.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/tliron/commonlog"

	"github.com/skdltmxn/hotswap-go/classfile"
	"github.com/skdltmxn/hotswap-go/engine"
	"github.com/skdltmxn/hotswap-go/environment"
	"github.com/skdltmxn/hotswap-go/extension"
	"github.com/skdltmxn/hotswap-go/host"
	"github.com/skdltmxn/hotswap-go/sidetable"
	"github.com/skdltmxn/hotswap-go/transform"

	_ "github.com/tliron/commonlog/simple"
)

// FileName is the configuration file looked up in a directory.
const FileName = "hotswap.toml"

// Environment variables that override the file. A .env file next to the
// configuration file is loaded first; variables already set win.
const (
	EnvVerbosity  = "HOTSWAP_LOG_VERBOSITY"
	EnvLogPath    = "HOTSWAP_LOG_PATH"
	EnvExtensions = "HOTSWAP_EXTENSIONS"
	EnvTracked    = "HOTSWAP_TRACKED"
)

// Config is the engine configuration:
//
//	[engine]
//	tracked = ["com.example.Foo"]
//	extensions = "extensions"
//
//	[log]
//	verbosity = 1
//	path = "hotswap.log"
//
//	[[deployment.units]]
//	name = "shop.ear/web.war"
//	root = "/srv/shop/web.war"
//	loader = "deployment.shop.ear.web.war"
type Config struct {
	Engine     Engine     `toml:"engine"`
	Log        Log        `toml:"log"`
	Deployment Deployment `toml:"deployment"`

	// Dir is the directory holding the file (set at load time).
	Dir string `toml:"-"`
}

// Engine configures the redefinition engine.
type Engine struct {
	// Tracked lists classes, in Java form, whose instances are tracked.
	Tracked []string `toml:"tracked"`

	// Extensions is the directory of extension descriptors, relative to
	// Dir unless absolute.
	Extensions string `toml:"extensions"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Deployment lists the deployment units. With units configured the
// deployment environment replaces the default one.
type Deployment struct {
	Units []environment.Unit `toml:"units"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		Engine: Engine{Extensions: "extensions"},
		Log:    Log{Verbosity: 1},
		Dir:    ".",
	}
}

// Parse decodes a configuration over the defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %s", undecoded[0])
	}
	for i, u := range c.Deployment.Units {
		if u.Name == "" || u.Root == "" || u.Loader == "" {
			return nil, fmt.Errorf("config: deployment unit %d needs name, root and loader", i)
		}
	}
	return c, nil
}

// Load reads a configuration file, then applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	dir := filepath.Dir(path)
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	c := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	default:
		if c, err = Parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("config: cannot resolve path %s: %w", dir, err)
	}
	if err := c.override(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) override() error {
	if v := os.Getenv(EnvVerbosity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvVerbosity, err)
		}
		c.Log.Verbosity = n
	}
	if v := os.Getenv(EnvLogPath); v != "" {
		c.Log.Path = v
	}
	if v := os.Getenv(EnvExtensions); v != "" {
		c.Engine.Extensions = v
	}
	if v := os.Getenv(EnvTracked); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Engine.Tracked = append(c.Engine.Tracked, name)
			}
		}
	}
	return nil
}

// ExtensionsDir returns the absolute descriptor directory.
func (c *Config) ExtensionsDir() string {
	if c.Engine.Extensions == "" || filepath.IsAbs(c.Engine.Extensions) {
		return c.Engine.Extensions
	}
	return filepath.Join(c.Dir, c.Engine.Extensions)
}

// Environment returns the configured environment for rt.
func (c *Config) Environment(rt host.Runtime) environment.Environment {
	if len(c.Deployment.Units) == 0 {
		return &environment.Default{Runtime: rt}
	}
	return environment.NewDeployment(rt, c.Deployment.Units...)
}

// Instances tracks instances and drops the slots of retired members.
// *instance.Registry implements it.
type Instances interface {
	extension.Tracker
	engine.Retirer
}

// Options assembles the engine's collaborators over arena: a pipeline, the
// extensions described in ExtensionsDir and the configured environment.
// Configured tracked classes go to instances, which may be nil; it must
// resolve members through arena.
func (c *Config) Options(rt host.Runtime, arena *sidetable.Arena, instances Instances) (engine.Options, error) {
	opts := engine.Options{
		Arena:       arena,
		Pipeline:    &transform.Pipeline{},
		Environment: c.Environment(rt),
	}
	var tracker extension.Tracker
	if instances != nil {
		opts.Instances = instances
		tracker = instances
		for _, name := range c.Engine.Tracked {
			instances.Track(classfile.InternalName(name))
		}
	}

	opts.Extensions = extension.NewRegistry(rt, opts.Pipeline, tracker)
	descriptors, err := extension.LoadDescriptors(c.ExtensionsDir())
	if err != nil {
		return engine.Options{}, fmt.Errorf("config: %w", err)
	}
	for _, d := range descriptors {
		if err := opts.Extensions.Register(d.Bind(rt)); err != nil {
			return engine.Options{}, fmt.Errorf("config: %w", err)
		}
	}
	return opts, nil
}

// Apply configures logging.
func (c *Config) Apply() {
	var path *string
	if c.Log.Path != "" {
		p := c.Log.Path
		path = &p
	}
	commonlog.Configure(c.Log.Verbosity, path)
}
