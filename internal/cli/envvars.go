package cli

import (
	"os"
	"strings"

	envparse "github.com/caarlos0/env/v11"
)

// baseEnv defines root CLI defaults sourced from DOT_* env vars.
type baseEnv struct {
	// ConfigPath is the jobs.yaml path from DOT_CONFIG.
	ConfigPath string `env:"DOT_CONFIG"`
	// Env is the environment name from DOT_ENV.
	Env string `env:"DOT_ENV"`
	// LogLevel is the logging level from DOT_LOG_LEVEL.
	LogLevel string `env:"DOT_LOG_LEVEL"`
	// LogFormat is the logging format from DOT_LOG_FORMAT.
	LogFormat string `env:"DOT_LOG_FORMAT"`
}

// fivetranEnv captures DOT_* inputs for Fivetran commands.
type fivetranEnv struct {
	// APIKey is the Fivetran API key from DOT_FIVETRAN_API_KEY.
	APIKey string `env:"DOT_FIVETRAN_API_KEY"`
	// APISecret is the Fivetran API secret from DOT_FIVETRAN_API_SECRET.
	APISecret string `env:"DOT_FIVETRAN_API_SECRET"`
	// KeySecretRef optionally names a Secret Manager ref for the key.
	KeySecretRef string `env:"DOT_FIVETRAN_API_KEY_SECRET"`
	// SecretSecretRef optionally names a Secret Manager ref for the secret.
	SecretSecretRef string `env:"DOT_FIVETRAN_API_SECRET_SECRET"`
}

// dbtEnv captures DOT_* inputs for dbt Cloud commands.
type dbtEnv struct {
	// AccountID is the dbt Cloud account from DOT_DBT_ACCOUNT_ID.
	AccountID string `env:"DOT_DBT_ACCOUNT_ID"`
	// Token is the dbt Cloud API token from DOT_DBT_TOKEN.
	Token string `env:"DOT_DBT_TOKEN"`
	// TokenSecretRef optionally names a Secret Manager ref for the token.
	TokenSecretRef string `env:"DOT_DBT_TOKEN_SECRET"`
}

// oktaEnv captures DOT_* inputs for the Okta sync.
type oktaEnv struct {
	// OrgURL is the Okta org URL from DOT_OKTA_ORG_URL.
	OrgURL string `env:"DOT_OKTA_ORG_URL"`
	// Token is the Okta API token from DOT_OKTA_TOKEN.
	Token string `env:"DOT_OKTA_TOKEN"`
	// TokenSecretRef optionally names a Secret Manager ref for the token.
	TokenSecretRef string `env:"DOT_OKTA_TOKEN_SECRET"`
	// Dataset is the target dataset from DOT_OKTA_DATASET.
	Dataset string `env:"DOT_OKTA_DATASET" envDefault:"okta"`
	// TempDataset stages loads before promotion, from DOT_OKTA_TEMP_DATASET.
	// Empty derives "temp_" + Dataset.
	TempDataset string `env:"DOT_OKTA_TEMP_DATASET"`
	// LogBucket receives run summaries from DOT_LOG_BUCKET.
	LogBucket string `env:"DOT_LOG_BUCKET"`
}

// wooEnv captures DOT_* inputs for the WooCommerce sync. Two stores are
// supported; the second is optional.
type wooEnv struct {
	// Dataset is the target dataset from DOT_WOO_DATASET.
	Dataset string `env:"DOT_WOO_DATASET" envDefault:"woocommerce"`
	// StoreName is the first store label from DOT_WOO_STORE_NAME.
	StoreName string `env:"DOT_WOO_STORE_NAME" envDefault:"us"`
	// StoreURL is the first store URL from DOT_WOO_STORE_URL.
	StoreURL string `env:"DOT_WOO_STORE_URL"`
	// ConsumerKey from DOT_WOO_CONSUMER_KEY.
	ConsumerKey string `env:"DOT_WOO_CONSUMER_KEY"`
	// ConsumerSecret from DOT_WOO_CONSUMER_SECRET.
	ConsumerSecret string `env:"DOT_WOO_CONSUMER_SECRET"`
	// Store2Name is the second store label from DOT_WOO_STORE2_NAME.
	Store2Name string `env:"DOT_WOO_STORE2_NAME"`
	// Store2URL is the second store URL from DOT_WOO_STORE2_URL.
	Store2URL string `env:"DOT_WOO_STORE2_URL"`
	// Consumer2Key from DOT_WOO_CONSUMER2_KEY.
	Consumer2Key string `env:"DOT_WOO_CONSUMER2_KEY"`
	// Consumer2Secret from DOT_WOO_CONSUMER2_SECRET.
	Consumer2Secret string `env:"DOT_WOO_CONSUMER2_SECRET"`
}

// geographyEnv captures DOT_* inputs for the geography refresh.
type geographyEnv struct {
	// Dataset is the target dataset from DOT_GEOGRAPHY_DATASET.
	Dataset string `env:"DOT_GEOGRAPHY_DATASET" envDefault:"geography"`
	// GeoNamesUser from DOT_GEONAMES_USER.
	GeoNamesUser string `env:"DOT_GEONAMES_USER"`
	// GeoNamesPassword from DOT_GEONAMES_PASSWORD.
	GeoNamesPassword string `env:"DOT_GEONAMES_PASSWORD"`
	// MaxMindLicenseKey from DOT_MAXMIND_LICENSE_KEY.
	MaxMindLicenseKey string `env:"DOT_MAXMIND_LICENSE_KEY"`
	// DBTJobID is published in the completion event, from DOT_GEOGRAPHY_DBT_JOB_ID.
	DBTJobID string `env:"DOT_GEOGRAPHY_DBT_JOB_ID" envDefault:"32227"`
	// CompletionTopic names the Pub/Sub topic from DOT_COMPLETION_TOPIC.
	CompletionTopic string `env:"DOT_COMPLETION_TOPIC" envDefault:"cloud-run-job-completed"`
}

// gcpEnv captures shared GCP settings for job commands.
type gcpEnv struct {
	// ProjectID is the GCP project from DOT_GCP_PROJECT (or the standard
	// GOOGLE_CLOUD_PROJECT set on Cloud Run).
	ProjectID string `env:"DOT_GCP_PROJECT"`
	// FallbackProject is the runtime-provided project ID.
	FallbackProject string `env:"GOOGLE_CLOUD_PROJECT"`
}

// Project returns the configured project, preferring the explicit setting.
func (g gcpEnv) Project() string {
	if g.ProjectID != "" {
		return g.ProjectID
	}
	return g.FallbackProject
}

// serveEnv captures DOT_* inputs for the webhook server.
type serveEnv struct {
	// Port is the listen port; Cloud Run sets PORT.
	Port string `env:"PORT" envDefault:"8080"`
	// FivetranSecret verifies Fivetran signatures, from DOT_FIVETRAN_WEBHOOK_SECRET.
	FivetranSecret string `env:"DOT_FIVETRAN_WEBHOOK_SECRET"`
	// DBTSecret verifies dbt signatures, from DOT_DBT_WEBHOOK_SECRET.
	DBTSecret string `env:"DOT_DBT_WEBHOOK_SECRET"`
	// FabricJobs maps dbt job IDs to Fabric job names, from DOT_FABRIC_JOBS
	// as "dbtJobID=fabricJob" pairs separated by commas.
	FabricJobs string `env:"DOT_FABRIC_JOBS"`
	// FivetranTopic from DOT_FIVETRAN_EVENTS_TOPIC.
	FivetranTopic string `env:"DOT_FIVETRAN_EVENTS_TOPIC" envDefault:"fivetran-events"`
	// FabricTopic from DOT_FABRIC_JOB_EVENTS_TOPIC.
	FabricTopic string `env:"DOT_FABRIC_JOB_EVENTS_TOPIC" envDefault:"fabric-job-events"`
	// CompletedTopic from DOT_COMPLETION_TOPIC.
	CompletedTopic string `env:"DOT_COMPLETION_TOPIC" envDefault:"cloud-run-job-completed"`
}

// parseEnv fills target from DOT_* env vars via caarlos0/env.
func parseEnv(target interface{}) error {
	return envparse.Parse(target)
}

// envPresent reports whether a non-empty env var exists.
func envPresent(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	return strings.TrimSpace(val) != ""
}

// parsePairs splits "k=v,k2=v2" lists used by mapping env vars.
func parsePairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
