// Package mscconfig implements the configuration loader (C20): the
// environment-variable contract spec.md §6 names, the legacy INI alias
// file, and the structured YAML alias loader. Parsing follows the
// teacher's manual map[string]interface{} style rather than struct tags,
// loading untyped YAML/INI into maps and pulling typed values out through
// small parse* helpers with explicit defaults.
package mscconfig

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"

	"github.com/NVIDIA/mscfile/mscerr"
	mpath "github.com/NVIDIA/mscfile/path"
)

// S3Config holds the S3 backend's environment-derived settings for one
// profile (the default profile's key is "").
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// HDFSConfig holds one HDFS profile's environment-derived settings.
type HDFSConfig struct {
	User       string
	URL        string
	Root       string
	Timeout    time.Duration
	Token      string
	ConfigPath string
}

// SFTPConfig holds SFTP auth settings.
type SFTPConfig struct {
	Username          string
	Password          string
	PrivateKeyPath    string
	PrivateKeyType    string
	PrivateKeyPasswd  string
}

// WebDAVConfig holds WebDAV auth settings.
type WebDAVConfig struct {
	Username     string
	Password     string
	Token        string
	TokenCommand string
	Timeout      time.Duration
}

// TelemetryConfig holds the OTLP metrics exporter settings.
type TelemetryConfig struct {
	Enabled          bool
	OTLPEndpoint     string
	Insecure         bool
	ServiceName      string
	StaticAttributes map[string]string
}

// Config is the fully resolved configuration: per-profile backend settings
// plus the alias table (already applied to the path package's registry by
// Load).
type Config struct {
	S3        map[string]S3Config // keyed by profile ("" = default)
	HDFS      map[string]HDFSConfig
	SFTP      SFTPConfig
	WebDAV    WebDAVConfig
	Telemetry TelemetryConfig
}

// LoadFromEnv reads the environment-variable contract spec.md §6 names.
// Profiled variants follow the "<PROFILE>__HDFS_*" convention; only HDFS
// documents per-profile env vars, so only HDFS is scanned for them here.
func LoadFromEnv() *Config {
	cfg := &Config{
		S3:   map[string]S3Config{},
		HDFS: map[string]HDFSConfig{},
	}

	cfg.S3[""] = S3Config{
		Endpoint:        os.Getenv("OSS_ENDPOINT"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}

	cfg.HDFS[""] = parseHDFSEnv("")
	for _, profile := range profilesReferencedIn(os.Environ(), "__HDFS_USER") {
		cfg.HDFS[profile] = parseHDFSEnv(profile)
	}

	cfg.SFTP = SFTPConfig{
		Username:         os.Getenv("SFTP_USERNAME"),
		Password:         os.Getenv("SFTP_PASSWORD"),
		PrivateKeyPath:   os.Getenv("SFTP_PRIVATE_KEY_PATH"),
		PrivateKeyType:   os.Getenv("SFTP_PRIVATE_KEY_TYPE"),
		PrivateKeyPasswd: os.Getenv("SFTP_PRIVATE_KEY_PASSWORD"),
	}

	cfg.WebDAV = WebDAVConfig{
		Username:     os.Getenv("WEBDAV_USERNAME"),
		Password:     os.Getenv("WEBDAV_PASSWORD"),
		Token:        os.Getenv("WEBDAV_TOKEN"),
		TokenCommand: os.Getenv("WEBDAV_TOKEN_COMMAND"),
		Timeout:      envDurationSeconds("WEBDAV_TIMEOUT", 30*time.Second),
	}

	cfg.Telemetry = TelemetryConfig{
		Enabled:          os.Getenv("MSC_OTLP_ENDPOINT") != "",
		OTLPEndpoint:     os.Getenv("MSC_OTLP_ENDPOINT"),
		Insecure:         os.Getenv("MSC_OTLP_INSECURE") == "1" || os.Getenv("MSC_OTLP_INSECURE") == "true",
		ServiceName:      os.Getenv("MSC_SERVICE_NAME"),
		StaticAttributes: parseAttributes(os.Getenv("MSC_OTLP_ATTRIBUTES")),
	}

	return cfg
}

func envKey(profile, suffix string) string {
	if profile == "" {
		return suffix
	}
	return strings.ToUpper(profile) + "__" + suffix
}

func parseHDFSEnv(profile string) HDFSConfig {
	return HDFSConfig{
		User:       os.Getenv(envKey(profile, "HDFS_USER")),
		URL:        os.Getenv(envKey(profile, "HDFS_URL")),
		Root:       os.Getenv(envKey(profile, "HDFS_ROOT")),
		Timeout:    envDurationSeconds(envKey(profile, "HDFS_TIMEOUT"), 60*time.Second),
		Token:      os.Getenv(envKey(profile, "HDFS_TOKEN")),
		ConfigPath: os.Getenv(envKey(profile, "HDFS_CONFIG_PATH")),
	}
}

// parseAttributes parses "k1=v1,k2=v2" into a map; malformed pairs are
// skipped rather than failing the whole configuration load.
func parseAttributes(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func envDurationSeconds(name string, dflt time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return dflt
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return dflt
	}
	return time.Duration(secs) * time.Second
}

// profilesReferencedIn scans environ for "<PROFILE>__<suffix>" entries and
// returns the distinct profile names found, lowercased back to their
// natural alias form.
func profilesReferencedIn(environ []string, suffix string) []string {
	var out []string
	seen := map[string]bool{}
	for _, kv := range environ {
		idx := strings.Index(kv, "=")
		if idx < 0 {
			continue
		}
		key := kv[:idx]
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		profile := strings.TrimSuffix(key, "__"+strings.TrimPrefix(suffix, "__"))
		if profile == key || profile == "" {
			continue
		}
		profile = strings.ToLower(profile)
		if !seen[profile] {
			seen[profile] = true
			out = append(out, profile)
		}
	}
	return out
}

// AliasEntry is one resolved "<alias>: <protocol>://<prefix>" mapping.
type AliasEntry struct {
	Name     string
	Protocol string
	Prefix   string
}

// LoadAliasFile loads aliases from either the structured YAML form
// ({alias_name: "<protocol>://<prefix>"}) or the legacy INI form
// (sections named <alias> with protocol/prefix keys), detected by file
// extension, applying os.ExpandEnv + envsubst to every value the same way
// the teacher's parseString does.
func LoadAliasFile(filePath string) ([]AliasEntry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, mscerr.New(mscerr.Config, "load-alias-file", filePath, err)
	}

	if strings.HasSuffix(filePath, ".ini") || strings.HasSuffix(filePath, ".conf") {
		return parseLegacyINI(data)
	}
	return parseStructuredYAML(data)
}

func expand(s string) string {
	s = os.ExpandEnv(s)
	if out, err := envsubst.EvalEnv(s); err == nil {
		return out
	}
	return s
}

// parseStructuredYAML parses the new {alias_name: "<protocol>://<prefix>"}
// form into AliasEntry values.
func parseStructuredYAML(data []byte) ([]AliasEntry, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, mscerr.New(mscerr.Config, "parse-alias-file", "", err)
	}

	aliasesRaw, ok := raw["aliases"]
	if !ok {
		aliasesRaw = raw // tolerate a bare top-level map, no "aliases:" wrapper
	}
	aliasMap, ok := aliasesRaw.(map[string]interface{})
	if !ok {
		return nil, mscerr.New(mscerr.Config, "parse-alias-file", "", fmt.Errorf("aliases section is not a mapping"))
	}

	var out []AliasEntry
	for name, v := range aliasMap {
		uri, ok := v.(string)
		if !ok {
			continue
		}
		uri = expand(uri)
		protocol, prefix, ok := splitSchemeURI(uri)
		if !ok {
			continue
		}
		out = append(out, AliasEntry{Name: name, Protocol: protocol, Prefix: prefix})
	}
	return out, nil
}

func splitSchemeURI(uri string) (protocol, prefix string, ok bool) {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return "", "", false
	}
	return uri[:idx], uri[idx+3:], true
}

// parseLegacyINI parses "[alias]\nprotocol = ...\nprefix = ...\n" sections.
func parseLegacyINI(data []byte) ([]AliasEntry, error) {
	var out []AliasEntry
	var current *AliasEntry

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if current != nil {
				out = append(out, *current)
			}
			name := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			current = &AliasEntry{Name: name}
			continue
		}
		if current == nil {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := expand(strings.TrimSpace(parts[1]))
		switch key {
		case "protocol":
			current.Protocol = val
		case "prefix":
			current.Prefix = val
		}
	}
	if current != nil {
		out = append(out, *current)
	}
	if err := scanner.Err(); err != nil {
		return nil, mscerr.New(mscerr.Config, "parse-alias-file", "", err)
	}
	return out, nil
}

// ApplyAliases registers every entry with the path package's alias table.
// When both a legacy and structured source define the same alias name, the
// caller should pass the structured entries last: RegisterAlias overwrites
// on conflict, so the later call wins (spec.md §9 decision: structured
// config wins over legacy INI).
func ApplyAliases(entries []AliasEntry) {
	for _, e := range entries {
		mpath.RegisterAlias(e.Name, mpath.Alias{Protocol: e.Protocol, Prefix: e.Prefix})
	}
}
