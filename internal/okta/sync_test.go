package okta

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CruGlobal/dot/internal/bq"
)

type fakeDirectory struct {
	apps          []App
	users         []User
	deprovisioned []User
	groups        []Group
	members       map[string][]User
	appUsers      map[string][]AppUser
}

func (f *fakeDirectory) ListApps(context.Context) ([]App, error) { return f.apps, nil }

func (f *fakeDirectory) ListUsers(context.Context) ([]User, error) { return f.users, nil }

func (f *fakeDirectory) ListDeprovisionedUsers(context.Context) ([]User, error) {
	return f.deprovisioned, nil
}

func (f *fakeDirectory) ListGroups(context.Context) ([]Group, error) { return f.groups, nil }

func (f *fakeDirectory) GroupMembers(_ context.Context, groupID string) ([]User, error) {
	members, ok := f.members[groupID]
	if !ok {
		return nil, fmt.Errorf("unexpected group %s", groupID)
	}
	return members, nil
}

func (f *fakeDirectory) AppUsers(_ context.Context, appID string) ([]AppUser, error) {
	users, ok := f.appUsers[appID]
	if !ok {
		return nil, fmt.Errorf("unexpected app %s", appID)
	}
	return users, nil
}

type fakeStore struct {
	loads    map[string][]byte
	queries  []string
	results  map[string][]string
	replaced [][2]string
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{loads: make(map[string][]byte)}
}

func (f *fakeStore) LoadCSV(_ context.Context, dataset, table string, r io.Reader, _ bq.LoadOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.loads[dataset+"."+table] = data
	return nil
}

func (f *fakeStore) ReplaceTable(_ context.Context, sourceDataset, sourceTable, targetDataset, targetTable string) error {
	f.replaced = append(f.replaced, [2]string{sourceDataset + "." + sourceTable, targetDataset + "." + targetTable})
	return nil
}

func (f *fakeStore) DeleteTable(_ context.Context, dataset, table string) error {
	f.deleted = append(f.deleted, dataset+"."+table)
	return nil
}

func (f *fakeStore) MaxTimestamp(context.Context, string, string, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeStore) QueryStrings(_ context.Context, query string) ([]string, error) {
	f.queries = append(f.queries, query)
	for fragment, ids := range f.results {
		if strings.Contains(query, fragment) {
			return ids, nil
		}
	}
	return nil, nil
}

type fakeUploader struct {
	objects map[string][]byte
}

func (f *fakeUploader) Upload(_ context.Context, bucket, object string, r io.Reader, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[bucket+"/"+object] = data
	return nil
}

func (f *fakeUploader) Close() error { return nil }

func testGroup(id, name string, members int) Group {
	g := Group{ID: id, Type: "OKTA_GROUP"}
	g.Profile.Name = name
	g.Embedded.Stats.UsersCount = members
	return g
}

func parseCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSyncerRun(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := &fakeDirectory{
		apps: []App{
			{ID: "a1", Name: "salesforce", Label: "Salesforce", Status: "ACTIVE"},
		},
		users: []User{
			{ID: "u1", Status: "ACTIVE", Created: &created,
				Profile: UserProfile{FirstName: "Ada", LastName: "Lovelace", Login: "ada@example.com"}},
			{ID: "u2", Status: "ACTIVE",
				Profile: UserProfile{Login: "grace@example.com"}},
		},
		deprovisioned: []User{
			{ID: "u3", Status: "DEPROVISIONED", Profile: UserProfile{Login: "old@example.com"}},
		},
		groups: []Group{
			testGroup("g1", "engineering", 2),
			testGroup("g-everyone", "Everyone", 900001),
		},
		members: map[string][]User{
			"g1": {{ID: "u1"}, {ID: "u2"}},
		},
		appUsers: map[string][]AppUser{
			"a1": {{ID: "u1", Status: "PROVISIONED"}},
		},
	}
	store := newFakeStore()
	uploader := &fakeUploader{}

	syncer := NewSyncer(dir, store, uploader, slog.New(slog.DiscardHandler), SyncConfig{
		Dataset: "el_okta",
		Bucket:  "pipeline-logs",
	})

	require.NoError(t, syncer.Run(context.Background()))

	// The deprovisioned listing lands in the users table alongside the
	// default listing.
	rows := parseCSV(t, store.loads["temp_el_okta.okta_users"])
	require.Len(t, rows, 4)
	assert.Equal(t, "2024-03-01 12:00:00", rows[1][6])
	assert.Empty(t, rows[2][6])
	assert.Equal(t, []string{"u3", "DEPROVISIONED"}, rows[3][:2])

	rows = parseCSV(t, store.loads["temp_el_okta.okta_apps"])
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a1", "salesforce", "Salesforce", "ACTIVE", "", "", ""}, rows[1])

	// Oversize group is exported but its membership is not expanded.
	rows = parseCSV(t, store.loads["temp_el_okta.okta_group_members"])
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"group_id", "user_id"}, rows[0])
	assert.Equal(t, []string{"g1", "u1"}, rows[1])
	assert.Equal(t, []string{"g1", "u2"}, rows[2])

	rows = parseCSV(t, store.loads["temp_el_okta.okta_groups"])
	require.Len(t, rows, 3)
	assert.Equal(t, "g-everyone", rows[2][0])
	assert.Equal(t, "900001", rows[2][4])

	rows = parseCSV(t, store.loads["temp_el_okta.okta_app_users"])
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a1", "u1", "PROVISIONED", ""}, rows[1])

	// The oversize group joins the recorded everyone set.
	rows = parseCSV(t, store.loads["temp_el_okta.okta_everyone_group_ids"])
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"g-everyone"}, rows[1])

	var promoted []string
	for _, pair := range store.replaced {
		assert.Equal(t, "temp_el_okta."+strings.TrimPrefix(pair[1], "el_okta."), pair[0])
		promoted = append(promoted, pair[1])
	}
	assert.Equal(t, []string{
		"el_okta.okta_apps",
		"el_okta.okta_users",
		"el_okta.okta_groups",
		"el_okta.okta_group_members",
		"el_okta.okta_app_users",
		"el_okta.okta_everyone_group_ids",
		"el_okta.okta_everyone_app_ids",
	}, promoted)
	assert.Len(t, store.deleted, 7)

	require.Len(t, uploader.objects, 1)
	for name, data := range uploader.objects {
		assert.Contains(t, name, "pipeline-logs/okta-sync/")
		assert.Contains(t, string(data), "apps: 1")
		assert.Contains(t, string(data), "users: 3")
		assert.Contains(t, string(data), "memberships: 2")
	}
}

func TestSyncerRunExcludesRecordedEveryoneIDs(t *testing.T) {
	dir := &fakeDirectory{
		apps:   []App{{ID: "a-everyone"}, {ID: "a2"}},
		groups: []Group{testGroup("g1", "staff", 1), testGroup("g2", "alumni", 1)},
		members: map[string][]User{
			"g2": {{ID: "u1"}},
		},
		appUsers: map[string][]AppUser{
			"a2": {{ID: "u1"}},
		},
	}
	store := newFakeStore()
	store.results = map[string][]string{
		"from `el_okta.okta_everyone_group_ids`": {"g-old"},
		"group by group_id":                      {"g1"},
		"from `el_okta.okta_everyone_app_ids`":   {"a-everyone"},
	}

	syncer := NewSyncer(dir, store, nil, slog.New(slog.DiscardHandler), SyncConfig{Dataset: "el_okta"})
	require.NoError(t, syncer.Run(context.Background()))

	// g1 crossed the threshold in the previous run's data, so its members
	// are not fetched again; a-everyone is already recorded.
	rows := parseCSV(t, store.loads["temp_el_okta.okta_group_members"])
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"g2", "u1"}, rows[1])

	rows = parseCSV(t, store.loads["temp_el_okta.okta_app_users"])
	require.Len(t, rows, 2)
	assert.Equal(t, "a2", rows[1][0])

	// The written-back sets carry both the recorded and the new ids.
	rows = parseCSV(t, store.loads["temp_el_okta.okta_everyone_group_ids"])
	assert.Equal(t, [][]string{{"id"}, {"g-old"}, {"g1"}}, rows)
	rows = parseCSV(t, store.loads["temp_el_okta.okta_everyone_app_ids"])
	assert.Equal(t, [][]string{{"id"}, {"a-everyone"}}, rows)

	assert.Contains(t, store.queries,
		"select group_id as id from `el_okta.okta_group_members` group by group_id having count(group_id) > 800000")
}

func TestSyncerRunSkipsUploadWithoutBucket(t *testing.T) {
	dir := &fakeDirectory{members: map[string][]User{}, appUsers: map[string][]AppUser{}}
	store := newFakeStore()

	syncer := NewSyncer(dir, store, nil, slog.New(slog.DiscardHandler), SyncConfig{Dataset: "okta"})
	require.NoError(t, syncer.Run(context.Background()))
	assert.Len(t, store.replaced, 7)
}

func TestDedupeUsers(t *testing.T) {
	users := dedupeUsers([]User{{ID: "u1"}, {ID: "u2"}, {ID: "u1"}})
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "u2", users[1].ID)
}
