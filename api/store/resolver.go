package store

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const valueClass = `[A-Za-z0-9_.-]+`

var validValue = regexp.MustCompile(`^` + valueClass + `$`)

type part struct {
	literal string
	field   string
}

type keyTemplate struct {
	source  string
	parts   []part
	fields  []string // capture order, first occurrence of each field
	pattern *regexp.Regexp
}

// Resolver turns descriptors into backend keys through per kind templates such as
// "{center}/{norm}/{date}/{hour}/{kind}.csv".
type Resolver struct {
	templates map[string]*keyTemplate
}

// NewResolver compiles the kind to template map.
func NewResolver(templates map[string]string) (*Resolver, error) {
	r := &Resolver{templates: map[string]*keyTemplate{}}
	for kind, source := range templates {
		tmpl, err := compileTemplate(source)
		if err != nil {
			return nil, errors.Wrapf(err, "template for %s", kind)
		}
		r.templates[kind] = tmpl
	}
	return r, nil
}

func compileTemplate(source string) (*keyTemplate, error) {
	tmpl := &keyTemplate{source: source}
	seen := map[string]bool{}
	var pattern strings.Builder
	pattern.WriteString("^")

	rest := source
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, errors.Errorf("unbalanced brace in %q", source)
			}
			tmpl.parts = append(tmpl.parts, part{literal: rest})
			pattern.WriteString(regexp.QuoteMeta(rest))
			break
		}
		if open > 0 {
			literal := rest[:open]
			if strings.IndexByte(literal, '}') >= 0 {
				return nil, errors.Errorf("unbalanced brace in %q", source)
			}
			tmpl.parts = append(tmpl.parts, part{literal: literal})
			pattern.WriteString(regexp.QuoteMeta(literal))
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, errors.Errorf("unbalanced brace in %q", source)
		}
		name := rest[open+1 : open+end]
		if !validValue.MatchString(name) {
			return nil, errors.Errorf("invalid field name %q in %q", name, source)
		}
		tmpl.parts = append(tmpl.parts, part{field: name})
		if seen[name] {
			// repeats are checked by rendering the parsed descriptor again
			pattern.WriteString(valueClass)
		} else {
			seen[name] = true
			tmpl.fields = append(tmpl.fields, name)
			pattern.WriteString("(" + valueClass + ")")
		}
		rest = rest[open+end+1:]
	}
	pattern.WriteString("$")

	compiled, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, err
	}
	tmpl.pattern = compiled
	return tmpl, nil
}

// HasKind reports whether a template is registered for the kind.
func (r *Resolver) HasKind(kind string) bool {
	_, ok := r.templates[kind]
	return ok
}

// Key renders the descriptor. Unknown kinds, missing fields and values that could escape the key
// space fail with ErrInvalidDescriptor.
func (r *Resolver) Key(d Descriptor) (string, error) {
	tmpl, ok := r.templates[d.Kind]
	if !ok {
		return "", errors.Wrapf(ErrInvalidDescriptor, "no template for kind %q", d.Kind)
	}
	var key strings.Builder
	for _, p := range tmpl.parts {
		if p.field == "" {
			key.WriteString(p.literal)
			continue
		}
		v, err := fieldValue(d.Fields, p.field)
		if err != nil {
			return "", err
		}
		key.WriteString(v)
	}
	return key.String(), nil
}

// Prefix renders the literal key prefix shared by every descriptor matching the filter, stopping at
// the first field the filter leaves open.
func (r *Resolver) Prefix(f Filter) (string, error) {
	tmpl, ok := r.templates[f.Kind]
	if !ok {
		return "", errors.Wrapf(ErrInvalidDescriptor, "no template for kind %q", f.Kind)
	}
	var prefix strings.Builder
	for _, p := range tmpl.parts {
		if p.field == "" {
			prefix.WriteString(p.literal)
			continue
		}
		if _, present := f.Fields[p.field]; !present {
			break
		}
		v, err := fieldValue(f.Fields, p.field)
		if err != nil {
			return "", err
		}
		prefix.WriteString(v)
	}
	return prefix.String(), nil
}

// Parse maps a key back onto a descriptor of the given kind.
func (r *Resolver) Parse(kind, key string) (Descriptor, bool) {
	tmpl, ok := r.templates[kind]
	if !ok {
		return Descriptor{}, false
	}
	match := tmpl.pattern.FindStringSubmatch(key)
	if match == nil {
		return Descriptor{}, false
	}
	d := Descriptor{Kind: kind, Fields: make(map[string]string, len(tmpl.fields))}
	for i, name := range tmpl.fields {
		d.Fields[name] = match[i+1]
	}
	if rendered, err := r.Key(d); err != nil || rendered != key {
		return Descriptor{}, false
	}
	return d, true
}

func fieldValue(fields map[string]string, name string) (string, error) {
	v := fields[name]
	if v == "" {
		return "", errors.Wrapf(ErrInvalidDescriptor, "missing field %q", name)
	}
	if !validValue.MatchString(v) || v == "." || v == ".." {
		return "", errors.Wrapf(ErrInvalidDescriptor, "field %q has invalid value %q", name, v)
	}
	return v, nil
}
