package creds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentials(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	ix, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	_, ok := ix.Find("https://www.wired.com/story/x", "Wired")
	assert.False(t, ok)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeCredentials(t, "subscriptions: [unterminated")
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse credentials file")
}

func TestFindByDomain(t *testing.T) {
	path := writeCredentials(t, `
subscriptions:
  - name: Wired
    domain: www.wired.com
    email: subscriptions@example.com
    password: hunter2
`)
	ix, err := Load(path)
	require.NoError(t, err)

	cred, ok := ix.Find("https://www.wired.com/story/some-piece", "")
	require.True(t, ok)
	assert.Equal(t, "subscriptions@example.com", cred.Email)

	// Subdomain and scheme variations resolve to the same registrable domain
	_, ok = ix.Find("http://m.wired.com/story/other", "")
	assert.True(t, ok)
}

func TestFindByPublicationName(t *testing.T) {
	path := writeCredentials(t, `
subscriptions:
  - name: The Financial Review
    domain: afr.com
    email: subscriptions@example.com
    password: hunter2
`)
	ix, err := Load(path)
	require.NoError(t, err)

	cred, ok := ix.Find("", "the financial review")
	require.True(t, ok)
	assert.Equal(t, "afr.com", cred.Domain)
}

func TestFindPrefersDomainOverName(t *testing.T) {
	path := writeCredentials(t, `
subscriptions:
  - name: Wired
    domain: wired.com
    email: domain-match@example.com
    password: a
  - name: Wired
    email: name-match@example.com
    password: b
`)
	ix, err := Load(path)
	require.NoError(t, err)

	cred, ok := ix.Find("https://wired.com/story/x", "Wired")
	require.True(t, ok)
	assert.Equal(t, "domain-match@example.com", cred.Email)
}

func TestDuplicateEntriesPreferSubscriptionsMailbox(t *testing.T) {
	path := writeCredentials(t, `
subscriptions:
  - name: Wired
    domain: wired.com
    email: someone@example.com
    password: personal
  - name: Wired
    domain: wired.com
    email: subscriptions@example.com
    password: shared
`)
	ix, err := Load(path)
	require.NoError(t, err)

	cred, ok := ix.Find("https://wired.com/x", "")
	require.True(t, ok)
	assert.Equal(t, "subscriptions@example.com", cred.Email)
	assert.Equal(t, "shared", cred.Password)
}

func TestFindSkipsUnusableEntries(t *testing.T) {
	path := writeCredentials(t, `
subscriptions:
  - name: Wired
    domain: wired.com
    notes: account cancelled
`)
	ix, err := Load(path)
	require.NoError(t, err)

	_, ok := ix.Find("https://wired.com/x", "Wired")
	assert.False(t, ok)
}
