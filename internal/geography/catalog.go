// Package geography downloads GeoNames and MaxMind reference datasets,
// normalizes them, and loads them into BigQuery.
package geography

import (
	"regexp"

	"cloud.google.com/go/bigquery"
)

// Source identifies which provider a dataset comes from; it selects the
// authentication scheme used for downloads.
type Source int

const (
	// SourceGeoNames datasets are fetched with basic auth.
	SourceGeoNames Source = iota
	// SourceMaxMind datasets are fetched with a license_key query parameter.
	SourceMaxMind
)

// Column names one destination column and its BigQuery type. Source files
// are untyped text; the load schema coerces each column on ingest.
type Column struct {
	Name string
	Type bigquery.FieldType
}

func strCol(name string) Column   { return Column{Name: name, Type: bigquery.StringFieldType} }
func intCol(name string) Column   { return Column{Name: name, Type: bigquery.IntegerFieldType} }
func floatCol(name string) Column { return Column{Name: name, Type: bigquery.FloatFieldType} }
func dateCol(name string) Column  { return Column{Name: name, Type: bigquery.DateFieldType} }

// Dataset describes one reference file: where to fetch it, how to read it,
// and the BigQuery table it lands in.
type Dataset struct {
	// Table is the destination table name.
	Table string
	// URL is the download location.
	URL string
	// Source selects the auth scheme.
	Source Source
	// ZipMember matches the file to extract when the download is a zip
	// archive; nil means the body is the data file itself.
	ZipMember *regexp.Regexp
	// Comma is the field delimiter of the source file.
	Comma rune
	// SkipRows drops leading rows (headers) from the source file.
	SkipRows int
	// CommentPrefix drops lines starting with this prefix, e.g. "#".
	CommentPrefix string
	// Columns are the destination columns in file order.
	Columns []Column
	// KeepNA lists columns where the literal "NA" is data, not a null
	// marker (e.g. the ISO code for Namibia).
	KeepNA []string
}

// ColumnNames returns the column names in file order.
func (d Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

var geonameColumns = []Column{
	intCol("geoname_id"), strCol("name"), strCol("ascii_name"), strCol("alternate_names"),
	floatCol("latitude"), floatCol("longitude"),
	strCol("feature_class"), strCol("feature_code"), strCol("country_code"), strCol("cc2"),
	strCol("admin1_code"), strCol("admin2_code"), strCol("admin3_code"), strCol("admin4_code"),
	intCol("population"), floatCol("elevation"), floatCol("dem"),
	strCol("timezone"), dateCol("modification_date"),
}

var cityBlockColumns = []Column{
	strCol("network"), intCol("geoname_id"), intCol("registered_country_geoname_id"),
	intCol("represented_country_geoname_id"), intCol("is_anonymous_proxy"),
	intCol("is_satellite_provider"), strCol("postal_code"),
	floatCol("latitude"), floatCol("longitude"), intCol("accuracy_radius"),
}

var countryBlockColumns = []Column{
	strCol("network"), intCol("geoname_id"), intCol("registered_country_geoname_id"),
	intCol("represented_country_geoname_id"), intCol("is_anonymous_proxy"),
	intCol("is_satellite_provider"),
}

// Catalog lists every dataset the geography job maintains.
var Catalog = []Dataset{
	{
		Table:         "country_info",
		URL:           "https://download.geonames.org/export/dump/countryInfo.txt",
		Source:        SourceGeoNames,
		Comma:         '\t',
		CommentPrefix: "#",
		Columns: []Column{
			strCol("iso"), strCol("iso3"), intCol("iso_numeric"), strCol("fips"),
			strCol("country"), strCol("capital"), floatCol("area_sq_km"),
			intCol("population"), strCol("continent"), strCol("tld"),
			strCol("currency_code"), strCol("currency_name"), strCol("phone"),
			strCol("postal_code_format"), strCol("postal_code_regex"), strCol("languages"),
			intCol("geoname_id"), strCol("neighbours"), strCol("equivalent_fips_code"),
		},
		KeepNA: []string{"iso", "fips"},
	},
	{
		Table:   "admin1_codes",
		URL:     "https://download.geonames.org/export/dump/admin1CodesASCII.txt",
		Source:  SourceGeoNames,
		Comma:   '\t',
		Columns: []Column{strCol("code"), strCol("name"), strCol("ascii_name"), intCol("geoname_id")},
	},
	{
		Table:   "admin2_codes",
		URL:     "https://download.geonames.org/export/dump/admin2Codes.txt",
		Source:  SourceGeoNames,
		Comma:   '\t',
		Columns: []Column{strCol("code"), strCol("name"), strCol("ascii_name"), intCol("geoname_id")},
	},
	{
		Table:     "cities_500",
		URL:       "https://download.geonames.org/export/dump/cities500.zip",
		Source:    SourceGeoNames,
		ZipMember: regexp.MustCompile(`^cities500\.txt$`),
		Comma:     '\t',
		Columns:   geonameColumns,
		KeepNA:    []string{"country_code", "cc2"},
	},
	{
		Table:     "cities_15000",
		URL:       "https://download.geonames.org/export/dump/cities15000.zip",
		Source:    SourceGeoNames,
		ZipMember: regexp.MustCompile(`^cities15000\.txt$`),
		Comma:     '\t',
		Columns:   geonameColumns,
		KeepNA:    []string{"country_code", "cc2"},
	},
	{
		Table:     "alternate_names",
		URL:       "https://download.geonames.org/export/dump/alternateNamesV2.zip",
		Source:    SourceGeoNames,
		ZipMember: regexp.MustCompile(`^alternateNamesV2\.txt$`),
		Comma:     '\t',
		Columns: []Column{
			intCol("alternate_name_id"), intCol("geoname_id"), strCol("iso_language"),
			strCol("alternate_name"), strCol("is_preferred_name"), strCol("is_short_name"),
			strCol("is_colloquial"), strCol("is_historic"),
			strCol("from_period"), strCol("to_period"),
		},
	},
	{
		Table:    "time_zones",
		URL:      "https://download.geonames.org/export/dump/timeZones.txt",
		Source:   SourceGeoNames,
		Comma:    '\t',
		SkipRows: 1,
		Columns: []Column{
			strCol("country_code"), strCol("timezone_id"),
			floatCol("gmt_offset"), floatCol("dst_offset"), floatCol("raw_offset"),
		},
		KeepNA: []string{"country_code"},
	},
	{
		Table:   "feature_codes",
		URL:     "https://download.geonames.org/export/dump/featureCodes_en.txt",
		Source:  SourceGeoNames,
		Comma:   '\t',
		Columns: []Column{strCol("code"), strCol("name"), strCol("description")},
	},
	{
		Table:    "language_codes",
		URL:      "https://download.geonames.org/export/dump/iso-languagecodes.txt",
		Source:   SourceGeoNames,
		Comma:    '\t',
		SkipRows: 1,
		Columns: []Column{
			strCol("iso_639_3"), strCol("iso_639_2"), strCol("iso_639_1"), strCol("language_name"),
		},
	},
	{
		Table:     "hierarchy",
		URL:       "https://download.geonames.org/export/dump/hierarchy.zip",
		Source:    SourceGeoNames,
		ZipMember: regexp.MustCompile(`^hierarchy\.txt$`),
		Comma:     '\t',
		Columns:   []Column{intCol("parent_id"), intCol("child_id"), strCol("type")},
	},
	{
		Table:     "postal_codes",
		URL:       "https://download.geonames.org/export/zip/allCountries.zip",
		Source:    SourceGeoNames,
		ZipMember: regexp.MustCompile(`^allCountries\.txt$`),
		Comma:     '\t',
		Columns: []Column{
			strCol("country_code"), strCol("postal_code"), strCol("place_name"),
			strCol("admin_name1"), strCol("admin_code1"),
			strCol("admin_name2"), strCol("admin_code2"),
			strCol("admin_name3"), strCol("admin_code3"),
			floatCol("latitude"), floatCol("longitude"), intCol("accuracy"),
		},
		KeepNA: []string{"country_code"},
	},
	{
		Table:     "geolite2_city_blocks_ipv4",
		URL:       "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City-CSV&suffix=zip",
		Source:    SourceMaxMind,
		ZipMember: regexp.MustCompile(`GeoLite2-City-Blocks-IPv4\.csv$`),
		Comma:     ',',
		SkipRows:  1,
		Columns:   cityBlockColumns,
	},
	{
		Table:     "geolite2_city_blocks_ipv6",
		URL:       "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City-CSV&suffix=zip",
		Source:    SourceMaxMind,
		ZipMember: regexp.MustCompile(`GeoLite2-City-Blocks-IPv6\.csv$`),
		Comma:     ',',
		SkipRows:  1,
		Columns:   cityBlockColumns,
	},
	{
		Table:     "geolite2_city_locations",
		URL:       "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City-CSV&suffix=zip",
		Source:    SourceMaxMind,
		ZipMember: regexp.MustCompile(`GeoLite2-City-Locations-en\.csv$`),
		Comma:     ',',
		SkipRows:  1,
		Columns: []Column{
			intCol("geoname_id"), strCol("locale_code"), strCol("continent_code"),
			strCol("continent_name"), strCol("country_iso_code"), strCol("country_name"),
			strCol("subdivision_1_iso_code"), strCol("subdivision_1_name"),
			strCol("subdivision_2_iso_code"), strCol("subdivision_2_name"),
			strCol("city_name"), intCol("metro_code"), strCol("time_zone"),
			intCol("is_in_european_union"),
		},
		KeepNA: []string{"country_iso_code", "subdivision_1_iso_code", "subdivision_2_iso_code"},
	},
	{
		Table:     "geolite2_country_blocks_ipv4",
		URL:       "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-Country-CSV&suffix=zip",
		Source:    SourceMaxMind,
		ZipMember: regexp.MustCompile(`GeoLite2-Country-Blocks-IPv4\.csv$`),
		Comma:     ',',
		SkipRows:  1,
		Columns:   countryBlockColumns,
	},
	{
		Table:     "geolite2_country_blocks_ipv6",
		URL:       "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-Country-CSV&suffix=zip",
		Source:    SourceMaxMind,
		ZipMember: regexp.MustCompile(`GeoLite2-Country-Blocks-IPv6\.csv$`),
		Comma:     ',',
		SkipRows:  1,
		Columns:   countryBlockColumns,
	},
	{
		Table:     "geolite2_country_locations",
		URL:       "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-Country-CSV&suffix=zip",
		Source:    SourceMaxMind,
		ZipMember: regexp.MustCompile(`GeoLite2-Country-Locations-en\.csv$`),
		Comma:     ',',
		SkipRows:  1,
		Columns: []Column{
			intCol("geoname_id"), strCol("locale_code"), strCol("continent_code"),
			strCol("continent_name"), strCol("country_iso_code"), strCol("country_name"),
			intCol("is_in_european_union"),
		},
		KeepNA: []string{"country_iso_code"},
	},
	{
		Table:     "geolite2_asn_blocks_ipv4",
		URL:       "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-ASN-CSV&suffix=zip",
		Source:    SourceMaxMind,
		ZipMember: regexp.MustCompile(`GeoLite2-ASN-Blocks-IPv4\.csv$`),
		Comma:     ',',
		SkipRows:  1,
		Columns: []Column{
			strCol("network"), intCol("autonomous_system_number"),
			strCol("autonomous_system_organization"),
		},
	},
}

// DatasetByTable returns the catalog entry for a table name.
func DatasetByTable(table string) (Dataset, bool) {
	for _, ds := range Catalog {
		if ds.Table == table {
			return ds, true
		}
	}
	return Dataset{}, false
}
