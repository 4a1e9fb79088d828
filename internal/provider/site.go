package provider

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var bundledSites []byte

// Site maps one family of pages onto book metadata, chapter lists and
// chapter bodies.
type Site struct {
	Name     string            `yaml:"name" toml:"name" json:"name"`
	Domains  []string          `yaml:"domains" toml:"domains" json:"domains"`
	BaseURL  string            `yaml:"base_url" toml:"base_url" json:"base_url"`
	Metadata MetadataSelectors `yaml:"metadata" toml:"metadata" json:"-"`
	Chapters ListSelectors     `yaml:"chapters" toml:"chapters" json:"-"`
	Chapter  ChapterSelectors  `yaml:"chapter" toml:"chapter" json:"-"`
}

// MetadataSelectors locate fields on the landing page. All but Header are
// evaluated inside the header, falling back to the whole document.
type MetadataSelectors struct {
	Header      string `yaml:"header" toml:"header"`
	Title       string `yaml:"title" toml:"title"`
	Author      string `yaml:"author" toml:"author"`
	AuthorIndex int    `yaml:"author_index" toml:"author_index"`
	Description string `yaml:"description" toml:"description"`
	Cover       string `yaml:"cover" toml:"cover"`
}

// ListSelectors enumerate chapter links. When URLTemplate is set, links are
// only counted and URLs are generated from {slug} and {n}. Count replaces the
// link tally with the first number in the matched element's text, for sites
// that show the total without listing chapters.
type ListSelectors struct {
	Container   string `yaml:"container" toml:"container"`
	Link        string `yaml:"link" toml:"link"`
	Count       string `yaml:"count" toml:"count"`
	Attr        string `yaml:"attr" toml:"attr"`
	URLTemplate string `yaml:"url_template" toml:"url_template"`
	SlugTrim    string `yaml:"slug_trim" toml:"slug_trim"`
}

// ChapterSelectors extract one chapter.
type ChapterSelectors struct {
	Title             string   `yaml:"title" toml:"title"`
	Content           string   `yaml:"content" toml:"content"`
	Fallback          string   `yaml:"fallback" toml:"fallback"`
	Strip             []string `yaml:"strip" toml:"strip"`
	DropLeadParagraph []string `yaml:"drop_lead_paragraph" toml:"drop_lead_paragraph"`
}

type siteFile struct {
	Sites []Site `yaml:"sites" toml:"sites"`
}

// BundledSites returns the embedded site table.
func BundledSites() ([]Site, error) {
	return decodeYAML(bundledSites)
}

// LoadSites reads a site table from a .yaml/.yml or .toml file.
func LoadSites(path string) ([]Site, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var f siteFile
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("decode sites toml %s: %w", path, err)
		}
		return f.Sites, validateAll(f.Sites)
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sites file: %w", err)
		}
		return decodeYAML(data)
	default:
		return nil, fmt.Errorf("sites file %s: unsupported extension", path)
	}
}

func decodeYAML(data []byte) ([]Site, error) {
	var f siteFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode sites yaml: %w", err)
	}
	return f.Sites, validateAll(f.Sites)
}

func validateAll(sites []Site) error {
	if len(sites) == 0 {
		return errors.New("site table is empty")
	}
	seen := make(map[string]struct{}, len(sites))
	for _, s := range sites {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("site %q defined twice", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// Validate checks the selectors needed by every operation are present.
func (s Site) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("site name is required")
	case len(s.Domains) == 0:
		return fmt.Errorf("site %s: at least one domain is required", s.Name)
	case s.Metadata.Header == "" || s.Metadata.Title == "":
		return fmt.Errorf("site %s: metadata.header and metadata.title are required", s.Name)
	case s.Chapters.Link == "" && s.Chapters.Count == "":
		return fmt.Errorf("site %s: chapters.link or chapters.count is required", s.Name)
	case s.Chapters.Count != "" && s.Chapters.URLTemplate == "":
		return fmt.Errorf("site %s: chapters.count needs a url_template", s.Name)
	case s.Chapters.URLTemplate == "" && s.Chapters.Attr == "":
		return fmt.Errorf("site %s: chapters.attr is required without a url_template", s.Name)
	case s.Chapter.Content == "":
		return fmt.Errorf("site %s: chapter.content is required", s.Name)
	}
	if s.Chapters.SlugTrim != "" {
		if _, err := regexp.Compile(s.Chapters.SlugTrim); err != nil {
			return fmt.Errorf("site %s: slug_trim: %w", s.Name, err)
		}
	}
	return nil
}
