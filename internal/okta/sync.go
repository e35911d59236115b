package okta

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/CruGlobal/dot/internal/bq"
	"github.com/CruGlobal/dot/internal/gcs"
)

// defaultEveryoneThreshold is the membership count above which a group or app
// is treated as the org-wide Everyone assignment and excluded from edge
// extraction. Once excluded, an id stays excluded via the everyone-id tables.
const defaultEveryoneThreshold = 800000

// Tables staged into the temp dataset and promoted into the target dataset.
const (
	appsTable           = "okta_apps"
	usersTable          = "okta_users"
	groupsTable         = "okta_groups"
	groupMembersTable   = "okta_group_members"
	appUsersTable       = "okta_app_users"
	everyoneGroupsTable = "okta_everyone_group_ids"
	everyoneAppsTable   = "okta_everyone_app_ids"
)

var syncTables = []string{
	appsTable,
	usersTable,
	groupsTable,
	groupMembersTable,
	appUsersTable,
	everyoneGroupsTable,
	everyoneAppsTable,
}

// SyncConfig controls one directory sync run.
type SyncConfig struct {
	// Dataset is the target BigQuery dataset.
	Dataset string
	// TempDataset receives the staged loads before promotion. Empty applies
	// "temp_" + Dataset.
	TempDataset string
	// Bucket optionally receives a run summary log; empty disables upload.
	Bucket string
	// EveryoneThreshold overrides the membership count cutoff for excluding
	// an id from edge extraction. Zero applies the default.
	EveryoneThreshold int
}

// Syncer copies the Okta directory into BigQuery: apps, users, groups, group
// memberships, and app assignments each land in the temp dataset, and every
// table is promoted into the target dataset only after all loads succeed.
type Syncer struct {
	dir      Directory
	store    bq.Store
	uploader gcs.Uploader
	logger   *slog.Logger
	cfg      SyncConfig
	now      func() time.Time
}

// NewSyncer wires a sync pipeline. uploader may be nil when cfg.Bucket is empty.
func NewSyncer(dir Directory, store bq.Store, uploader gcs.Uploader, logger *slog.Logger, cfg SyncConfig) *Syncer {
	if cfg.EveryoneThreshold <= 0 {
		cfg.EveryoneThreshold = defaultEveryoneThreshold
	}
	if cfg.TempDataset == "" {
		cfg.TempDataset = "temp_" + cfg.Dataset
	}
	return &Syncer{
		dir:      dir,
		store:    store,
		uploader: uploader,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run executes the full sync: apps, users (including the deprovisioned
// listing the default search hides), groups, then the membership edges for
// every group and app not in the everyone-id exclusion sets. All tables are
// staged in the temp dataset and promoted together at the end.
func (s *Syncer) Run(ctx context.Context) error {
	start := s.now().UTC()

	apps, err := s.dir.ListApps(ctx)
	if err != nil {
		return fmt.Errorf("list apps: %w", err)
	}
	s.logger.Info("fetched apps", "count", len(apps))

	users, err := s.dir.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	deprovisioned, err := s.dir.ListDeprovisionedUsers(ctx)
	if err != nil {
		return fmt.Errorf("list deprovisioned users: %w", err)
	}
	users = dedupeUsers(append(users, deprovisioned...))
	s.logger.Info("fetched users", "count", len(users), "deprovisioned", len(deprovisioned))

	groups, err := s.dir.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	s.logger.Info("fetched groups", "count", len(groups))

	if err := s.stage(ctx, appsTable, appsCSV(apps), appSchema); err != nil {
		return err
	}
	if err := s.stage(ctx, usersTable, usersCSV(users), userSchema); err != nil {
		return err
	}
	if err := s.stage(ctx, groupsTable, groupsCSV(groups), groupSchema); err != nil {
		return err
	}

	memberships, err := s.syncGroupMembers(ctx, groups)
	if err != nil {
		return err
	}
	assignments, err := s.syncAppUsers(ctx, apps)
	if err != nil {
		return err
	}

	if err := s.promote(ctx); err != nil {
		return err
	}

	if s.cfg.Bucket != "" && s.uploader != nil {
		counts := runCounts{
			apps:        len(apps),
			users:       len(users),
			groups:      len(groups),
			memberships: memberships,
			assignments: assignments,
		}
		if err := s.uploadSummary(ctx, start, counts); err != nil {
			// The sync itself succeeded; a missing log is not worth failing the run.
			s.logger.Warn("upload run summary", "error", err)
		}
	}
	return nil
}

// Membership is one user-group edge.
type Membership struct {
	GroupID string
	UserID  string
}

// Assignment is one user-app edge.
type Assignment struct {
	AppID   string
	UserID  string
	Status  string
	Created *time.Time
}

func (s *Syncer) syncGroupMembers(ctx context.Context, groups []Group) (int, error) {
	everyone, err := s.everyoneIDs(ctx, "group", groupMembersTable, everyoneGroupsTable)
	if err != nil {
		return 0, err
	}

	var memberships []Membership
	skipped := 0
	for _, g := range groups {
		if _, excluded := everyone[g.ID]; excluded {
			skipped++
			continue
		}
		if g.MemberCount() > s.cfg.EveryoneThreshold {
			s.logger.Info("excluding oversize group", "group", g.Profile.Name, "members", g.MemberCount())
			everyone[g.ID] = struct{}{}
			skipped++
			continue
		}
		members, err := s.dir.GroupMembers(ctx, g.ID)
		if err != nil {
			return 0, fmt.Errorf("members of group %s: %w", g.ID, err)
		}
		for _, m := range members {
			memberships = append(memberships, Membership{GroupID: g.ID, UserID: m.ID})
		}
	}
	s.logger.Info("fetched memberships", "count", len(memberships), "excluded_groups", skipped)

	if err := s.stage(ctx, groupMembersTable, membershipsCSV(memberships), memberSchema); err != nil {
		return 0, err
	}
	if err := s.stage(ctx, everyoneGroupsTable, everyoneIDsCSV(everyone), everyoneIDSchema); err != nil {
		return 0, err
	}
	return len(memberships), nil
}

func (s *Syncer) syncAppUsers(ctx context.Context, apps []App) (int, error) {
	everyone, err := s.everyoneIDs(ctx, "app", appUsersTable, everyoneAppsTable)
	if err != nil {
		return 0, err
	}

	var assignments []Assignment
	skipped := 0
	for _, a := range apps {
		if _, excluded := everyone[a.ID]; excluded {
			skipped++
			continue
		}
		appUsers, err := s.dir.AppUsers(ctx, a.ID)
		if err != nil {
			return 0, fmt.Errorf("users of app %s: %w", a.ID, err)
		}
		for _, u := range appUsers {
			assignments = append(assignments, Assignment{
				AppID: a.ID, UserID: u.ID, Status: u.Status, Created: u.Created,
			})
		}
	}
	s.logger.Info("fetched app assignments", "count", len(assignments), "excluded_apps", skipped)

	if err := s.stage(ctx, appUsersTable, assignmentsCSV(assignments), appUserSchema); err != nil {
		return 0, err
	}
	if err := s.stage(ctx, everyoneAppsTable, everyoneIDsCSV(everyone), everyoneIDSchema); err != nil {
		return 0, err
	}
	return len(assignments), nil
}

// everyoneIDs builds the exclusion set for one edge table: the ids already
// recorded in the everyone table unioned with any id whose edge count in the
// previous run's data crossed the threshold.
func (s *Syncer) everyoneIDs(ctx context.Context, entity, edgeTable, everyoneTable string) (map[string]struct{}, error) {
	current, err := s.store.QueryStrings(ctx, currentEveryoneIDsSQL(s.cfg.Dataset, everyoneTable))
	if err != nil {
		return nil, fmt.Errorf("current everyone %s ids: %w", entity, err)
	}
	grown, err := s.store.QueryStrings(ctx, newEveryoneIDsSQL(s.cfg.Dataset, edgeTable, entity, s.cfg.EveryoneThreshold))
	if err != nil {
		return nil, fmt.Errorf("new everyone %s ids: %w", entity, err)
	}
	if len(grown) > 0 {
		s.logger.Info("found new everyone ids", "entity", entity, "ids", grown)
	}

	everyone := make(map[string]struct{}, len(current)+len(grown))
	for _, id := range current {
		everyone[id] = struct{}{}
	}
	for _, id := range grown {
		everyone[id] = struct{}{}
	}
	return everyone, nil
}

func currentEveryoneIDsSQL(dataset, table string) string {
	return fmt.Sprintf("select id from `%s.%s`", dataset, table)
}

func newEveryoneIDsSQL(dataset, table, entity string, threshold int) string {
	col := entity + "_id"
	return fmt.Sprintf("select %s as id from `%s.%s` group by %s having count(%s) > %d",
		col, dataset, table, col, col, threshold)
}

// stage loads a CSV into the temp dataset, replacing any previous staging.
func (s *Syncer) stage(ctx context.Context, table string, data []byte, schema bigquery.Schema) error {
	err := s.store.LoadCSV(ctx, s.cfg.TempDataset, table, bytes.NewReader(data), bq.LoadOptions{
		Schema:              schema,
		SkipLeadingRows:     1,
		AllowQuotedNewlines: true,
	})
	if err != nil {
		return fmt.Errorf("load %s.%s: %w", s.cfg.TempDataset, table, err)
	}
	s.logger.Info("staged table", "dataset", s.cfg.TempDataset, "table", table)
	return nil
}

// promote replaces every target table from its staged copy, then drops the
// staged copies.
func (s *Syncer) promote(ctx context.Context) error {
	for _, table := range syncTables {
		if err := s.store.ReplaceTable(ctx, s.cfg.TempDataset, table, s.cfg.Dataset, table); err != nil {
			return fmt.Errorf("promote %s: %w", table, err)
		}
		if err := s.store.DeleteTable(ctx, s.cfg.TempDataset, table); err != nil {
			s.logger.Warn("drop staged table", "table", table, "error", err)
		}
		s.logger.Info("replaced table", "dataset", s.cfg.Dataset, "table", table)
	}
	return nil
}

type runCounts struct {
	apps        int
	users       int
	groups      int
	memberships int
	assignments int
}

func (s *Syncer) uploadSummary(ctx context.Context, start time.Time, counts runCounts) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "started: %s\n", start.Format(time.RFC3339))
	fmt.Fprintf(&sb, "finished: %s\n", s.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "apps: %d\nusers: %d\ngroups: %d\nmemberships: %d\napp_users: %d\n",
		counts.apps, counts.users, counts.groups, counts.memberships, counts.assignments)

	object := gcs.RunObjectName("okta-sync", start, ".log")
	return s.uploader.Upload(ctx, s.cfg.Bucket, object, strings.NewReader(sb.String()), "text/plain")
}

// dedupeUsers drops repeated ids, keeping first occurrence order.
func dedupeUsers(users []User) []User {
	seen := make(map[string]struct{}, len(users))
	out := users[:0]
	for _, u := range users {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out
}

func appsCSV(apps []App) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"id", "name", "label", "status", "sign_on_mode", "created", "last_updated"})
	for _, a := range apps {
		w.Write([]string{
			a.ID, a.Name, a.Label, a.Status, a.SignOnMode,
			csvTime(a.Created), csvTime(a.LastUpdated),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func usersCSV(users []User) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"id", "status", "first_name", "last_name", "email", "login", "created", "last_login", "last_updated"})
	for _, u := range users {
		w.Write([]string{
			u.ID, u.Status,
			u.Profile.FirstName, u.Profile.LastName, u.Profile.Email, u.Profile.Login,
			csvTime(u.Created), csvTime(u.LastLogin), csvTime(u.LastUpdated),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func groupsCSV(groups []Group) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"id", "name", "description", "type", "member_count", "created", "last_updated"})
	for _, g := range groups {
		w.Write([]string{
			g.ID, g.Profile.Name, g.Profile.Description, g.Type,
			strconv.Itoa(g.MemberCount()),
			csvTime(g.Created), csvTime(g.LastUpdated),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func membershipsCSV(memberships []Membership) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"group_id", "user_id"})
	for _, m := range memberships {
		w.Write([]string{m.GroupID, m.UserID})
	}
	w.Flush()
	return buf.Bytes()
}

func assignmentsCSV(assignments []Assignment) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"app_id", "user_id", "status", "created"})
	for _, a := range assignments {
		w.Write([]string{a.AppID, a.UserID, a.Status, csvTime(a.Created)})
	}
	w.Flush()
	return buf.Bytes()
}

func everyoneIDsCSV(ids map[string]struct{}) []byte {
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"id"})
	for _, id := range sorted {
		w.Write([]string{id})
	}
	w.Flush()
	return buf.Bytes()
}

// csvTime renders a timestamp for BigQuery CSV ingestion, empty for NULL.
func csvTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
