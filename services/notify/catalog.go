package notify

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// BaseLocale is used when no catalog matches the requested locale.
const BaseLocale = "en-US"

//go:embed locales/*.yaml
var localeFS embed.FS

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Catalog holds the email copy for every supported locale.
type Catalog struct {
	builder *catalog.Builder
	matcher language.Matcher
	tags    []language.Tag
}

func LoadCatalog() (*Catalog, error) {
	return LoadCatalogFS(localeFS)
}

// LoadCatalogFS reads locales/*.yaml from fsys. The base locale must be
// present since it backs every missing translation.
func LoadCatalogFS(fsys fs.FS) (*Catalog, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	base := language.MustParse(BaseLocale)
	builder := catalog.NewBuilder(catalog.Fallback(base))
	tags := []language.Tag{base}
	seenBase := false

	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}

		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}

		locale := strings.TrimSpace(file.Locale)
		if want := strings.TrimSuffix(path.Base(p), ".yaml"); locale != want {
			return nil, fmt.Errorf("catalog %s: locale %q must match file name", p, locale)
		}
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", p, err)
		}

		for key, value := range file.Messages {
			if err := builder.SetString(tag, key, value); err != nil {
				return nil, fmt.Errorf("catalog %s: key %q: %w", p, key, err)
			}
		}

		if locale == BaseLocale {
			seenBase = true
		} else {
			tags = append(tags, tag)
		}
	}

	if !seenBase {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}

	return &Catalog{
		builder: builder,
		matcher: language.NewMatcher(tags),
		tags:    tags,
	}, nil
}

// Printer returns a printer for the closest supported match of locale.
func (c *Catalog) Printer(locale string) *message.Printer {
	tag := c.tags[0]
	if requested, err := language.Parse(locale); err == nil {
		if _, index, conf := c.matcher.Match(requested); conf != language.No {
			tag = c.tags[index]
		}
	}
	return message.NewPrinter(tag, message.Catalog(c.builder))
}

// Locales lists the loaded locales, base locale first.
func (c *Catalog) Locales() []string {
	out := make([]string, len(c.tags))
	for i, t := range c.tags {
		out[i] = t.String()
	}
	return out
}
