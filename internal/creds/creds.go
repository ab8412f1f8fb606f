// Package creds resolves subscription credentials for paywalled
// publications from a YAML file, indexed by registrable domain and by
// publication name. Lookup is best-effort throughout: a missing file or an
// unmatched article yields no credentials, never an error for the caller's
// request path.
package creds

import (
	"fmt"
	"os"
	"strings"

	"github.com/newsdesk/staging-portal/internal/util"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Credential is one subscription entry from the credentials file
type Credential struct {
	Name     string `yaml:"name" json:"name"`
	Domain   string `yaml:"domain" json:"domain"`
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"password"`
	Notes    string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

type credentialsFile struct {
	Subscriptions []Credential `yaml:"subscriptions"`
}

// Index holds immutable lookup tables built once at startup, replacing the
// process-wide mutable maps this service historically relied on
type Index struct {
	byDomain map[string]Credential
	byName   map[string]Credential
}

// Load parses the credentials YAML and builds the lookup indexes. A missing
// file is not an error: credential lookup is optional and the portal must
// keep serving tasks without it.
func Load(path string) (*Index, error) {
	ix := &Index{
		byDomain: make(map[string]Credential),
		byName:   make(map[string]Credential),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("Credentials file not found, serving tasks without credentials")
		return ix, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var file credentialsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	for _, entry := range file.Subscriptions {
		entry.Name = strings.TrimSpace(entry.Name)
		entry.Domain = strings.TrimSpace(entry.Domain)
		entry.Email = strings.TrimSpace(entry.Email)
		entry.Password = strings.TrimSpace(entry.Password)

		if entry.Name == "" && entry.Domain == "" {
			continue
		}

		if entry.Domain != "" {
			key := util.NormaliseDomain(entry.Domain)
			if existing, ok := ix.byDomain[key]; !ok || score(entry) > score(existing) {
				ix.byDomain[key] = entry
			}
		}

		if entry.Name != "" {
			key := strings.ToLower(entry.Name)
			if existing, ok := ix.byName[key]; !ok || score(entry) > score(existing) {
				ix.byName[key] = entry
			}
		}
	}

	log.Info().
		Int("domains", len(ix.byDomain)).
		Int("names", len(ix.byName)).
		Msg("Loaded subscription credentials")

	return ix, nil
}

// score ranks duplicate entries for the same domain or name: the shared
// subscriptions mailbox wins, then entries with a complete email+password
// pair.
func score(c Credential) int {
	s := 0
	if strings.HasPrefix(strings.ToLower(c.Email), "subscriptions@") {
		s += 2
	}
	if c.Email != "" && c.Password != "" {
		s++
	}
	return s
}

// Find looks up credentials for an article: registrable domain of the
// permalink first, then the publication name. Returns false when nothing
// usable matches.
func (ix *Index) Find(permalinkURL, publication string) (Credential, bool) {
	if permalinkURL != "" {
		if domain := util.NormaliseDomain(permalinkURL); domain != "" {
			if cred, ok := ix.byDomain[domain]; ok && usable(cred) {
				return cred, true
			}
		}
	}

	if publication != "" {
		if cred, ok := ix.byName[strings.ToLower(publication)]; ok && usable(cred) {
			return cred, true
		}
	}

	return Credential{}, false
}

func usable(c Credential) bool {
	return c.Email != "" || c.Password != ""
}
