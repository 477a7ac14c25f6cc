// Package config reads and writes the repository's INI configuration file,
// <repo>/config, in the bit-exact layout the engine's external interface
// specifies.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
)

// FileName is the configuration file's name within a repository directory.
const FileName = "config"

// Project holds one [project "<name>"] section's settings.
type Project struct {
	Name       string
	SourceRepo string
	GitwebURL  string
}

// Upload holds the [bunsen-upload] section's settings.
type Upload struct {
	// Manifest is the glob-pattern whitelist ingest filters submitted files
	// against.
	Manifest []string
	// CommitModule names the parse+ingest plug-in to dispatch to.
	CommitModule string
	// ExtraLabelFields, when set, derives a testrun's extra_label from the
	// named configuration fields instead of requiring the plug-in to supply
	// one directly.
	ExtraLabelFields []string
}

// Config is a parsed repository configuration.
type Config struct {
	// DefaultProject is [core] project, used when a caller omits --project.
	DefaultProject string
	Projects       map[string]Project
	Upload         Upload

	raw *ini.File
}

// New returns an empty configuration with DefaultProject set.
func New(defaultProject string) *Config {
	return &Config{
		DefaultProject: defaultProject,
		Projects:       map[string]Project{},
		raw:            ini.Empty(),
	}
}

// Load parses the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := ini.Load(path)
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindBadConfig, "load config "+path, err)
	}

	cfg := &Config{Projects: map[string]Project{}, raw: raw}

	cfg.DefaultProject = raw.Section("core").Key("project").String()

	for _, section := range raw.Sections() {
		name, ok := parseProjectSection(section.Name())
		if !ok {
			continue
		}

		cfg.Projects[name] = Project{
			Name:       name,
			SourceRepo: section.Key("source_repo").String(),
			GitwebURL:  section.Key("gitweb_url").String(),
		}
	}

	upload := raw.Section("bunsen-upload")
	cfg.Upload = Upload{
		Manifest:         splitCSV(upload.Key("manifest").String()),
		CommitModule:     upload.Key("commit_module").String(),
		ExtraLabelFields: splitCSV(upload.Key("extra_label_fields").String()),
	}

	return cfg, nil
}

// Save writes cfg's in-memory state back to path in INI form.
func (c *Config) Save(path string) error {
	raw := ini.Empty()

	if c.DefaultProject != "" {
		if _, err := raw.Section("core").NewKey("project", c.DefaultProject); err != nil {
			return bunsenerr.Wrap(bunsenerr.KindBadConfig, "write [core] project", err)
		}
	}

	for _, p := range c.Projects {
		section, err := raw.NewSection(projectSectionName(p.Name))
		if err != nil {
			return bunsenerr.Wrap(bunsenerr.KindBadConfig, "create project section", err)
		}

		if p.SourceRepo != "" {
			if _, err := section.NewKey("source_repo", p.SourceRepo); err != nil {
				return bunsenerr.Wrap(bunsenerr.KindBadConfig, "write source_repo", err)
			}
		}

		if p.GitwebURL != "" {
			if _, err := section.NewKey("gitweb_url", p.GitwebURL); err != nil {
				return bunsenerr.Wrap(bunsenerr.KindBadConfig, "write gitweb_url", err)
			}
		}
	}

	if len(c.Upload.Manifest) > 0 || c.Upload.CommitModule != "" || len(c.Upload.ExtraLabelFields) > 0 {
		section, err := raw.NewSection("bunsen-upload")
		if err != nil {
			return bunsenerr.Wrap(bunsenerr.KindBadConfig, "create bunsen-upload section", err)
		}

		if len(c.Upload.Manifest) > 0 {
			if _, err := section.NewKey("manifest", strings.Join(c.Upload.Manifest, ",")); err != nil {
				return bunsenerr.Wrap(bunsenerr.KindBadConfig, "write manifest", err)
			}
		}

		if c.Upload.CommitModule != "" {
			if _, err := section.NewKey("commit_module", c.Upload.CommitModule); err != nil {
				return bunsenerr.Wrap(bunsenerr.KindBadConfig, "write commit_module", err)
			}
		}

		if len(c.Upload.ExtraLabelFields) > 0 {
			if _, err := section.NewKey("extra_label_fields", strings.Join(c.Upload.ExtraLabelFields, ",")); err != nil {
				return bunsenerr.Wrap(bunsenerr.KindBadConfig, "write extra_label_fields", err)
			}
		}
	}

	if err := raw.SaveTo(path); err != nil {
		return bunsenerr.Wrap(bunsenerr.KindStoreIO, "save config "+path, err)
	}

	c.raw = raw

	return nil
}

// projectSectionName renders a project's git-config-style quoted
// subsection name: `project "gdb"`.
func projectSectionName(name string) string {
	return fmt.Sprintf(`project %q`, name)
}

// parseProjectSection extracts the project name from a `project "<name>"`
// section header, if section matches that shape.
func parseProjectSection(section string) (string, bool) {
	const prefix = `project "`

	if !strings.HasPrefix(section, prefix) || !strings.HasSuffix(section, `"`) {
		return "", false
	}

	return section[len(prefix) : len(section)-1], true
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}
