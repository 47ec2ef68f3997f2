package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

	// event_log is append-only: no migration may rewrite or remove history.
	eventLogRewriteRe = regexp.MustCompile(`(?i)\b(update\s+event_log|delete\s+from\s+event_log|truncate\s+(table\s+)?event_log)\b`)
)

// ValidateDir validates the migrations under dir.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if err := ValidateFS(Source(dir)); err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}
	return nil
}

// ValidateFS checks filenames, unique versions, goose annotations, a non-empty
// Up section, and that no Up section rewrites event_log rows.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkMigration(name, string(b)); err != nil {
			return err
		}
	}
	return nil
}

// LatestVersion returns the highest migration version in fsys, "" when none.
func LatestVersion(fsys fs.FS) (string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return "", err
	}
	var versions []string
	for _, e := range entries {
		if m := sqlFileRe.FindStringSubmatch(e.Name()); m != nil {
			versions = append(versions, m[1])
		}
	}
	if len(versions) == 0 {
		return "", nil
	}
	sort.Strings(versions)
	return versions[len(versions)-1], nil
}

func checkMigration(name, txt string) error {
	upIdx := strings.Index(txt, "-- +goose Up")
	downIdx := strings.Index(txt, "-- +goose Down")
	switch {
	case upIdx < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	case downIdx < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	case downIdx < upIdx:
		return fmt.Errorf("migration %q has Down before Up", name)
	}

	up := txt[upIdx+len("-- +goose Up") : downIdx]
	if !hasStatement(up) {
		return fmt.Errorf("migration %q has an empty Up section", name)
	}
	if loc := eventLogRewriteRe.FindString(up); loc != "" {
		return fmt.Errorf("migration %q rewrites event_log history (%q); the log is append-only", name, loc)
	}
	return nil
}

func hasStatement(section string) bool {
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		return true
	}
	return false
}
