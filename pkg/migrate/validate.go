package migrate

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"gorm.io/gorm/schema"
)

var (
	fileNameRe    = regexp.MustCompile(`^(\d{14})_([a-z0-9]+(?:_[a-z0-9]+)*)\.sql$`)
	createTableRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?"?([a-z0-9_]+)"?`)
)

// Validate checks the migration set in fsys: YYYYMMDDHHMMSS_snake_name.sql
// file names with unique versions, both goose sections in every file, and a
// CREATE TABLE for each table the given GORM models map to, join tables
// included. Every problem found is reported, not just the first.
func Validate(fsys fs.FS, models ...any) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var errs error
	versions := map[string]string{}
	created := map[string]struct{}{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_snake_name.sql", name))
			continue
		}
		if prev, dup := versions[m[1]]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: version %s already used by %s", name, m[1], prev))
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		text := string(body)
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(text, marker) {
				errs = multierr.Append(errs, fmt.Errorf("%s: missing %q", name, marker))
			}
		}
		up, _, _ := strings.Cut(text, "-- +goose Down")
		for _, match := range createTableRe.FindAllStringSubmatch(up, -1) {
			created[strings.ToLower(match[1])] = struct{}{}
		}
	}
	if len(versions) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("no migrations found"))
	}

	tables, err := modelTables(models...)
	if err != nil {
		return multierr.Append(errs, err)
	}
	for _, table := range tables {
		if _, ok := created[table]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("table %s is mapped by a model but never created", table))
		}
	}
	return errs
}

// modelTables resolves table names the way GORM does at runtime.
func modelTables(models ...any) ([]string, error) {
	cache := &sync.Map{}
	seen := map[string]struct{}{}
	for _, model := range models {
		s, err := schema.Parse(model, cache, schema.NamingStrategy{})
		if err != nil {
			return nil, fmt.Errorf("parse model %T: %w", model, err)
		}
		seen[s.Table] = struct{}{}
		for _, rel := range s.Relationships.Relations {
			if rel.JoinTable != nil {
				seen[rel.JoinTable.Table] = struct{}{}
			}
		}
	}
	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables, nil
}
