package mscconfig

import (
	"os"
	"path/filepath"
	"testing"

	mpath "github.com/NVIDIA/mscfile/path"
)

func TestLoadFromEnvReadsS3Vars(t *testing.T) {
	t.Setenv("OSS_ENDPOINT", "https://example.test")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA_TEST")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	cfg := LoadFromEnv()
	s3 := cfg.S3[""]
	if s3.Endpoint != "https://example.test" {
		t.Errorf("Endpoint = %q, want %q", s3.Endpoint, "https://example.test")
	}
	if s3.AccessKeyID != "AKIA_TEST" {
		t.Errorf("AccessKeyID = %q, want %q", s3.AccessKeyID, "AKIA_TEST")
	}
}

func TestLoadFromEnvPicksUpProfiledHDFS(t *testing.T) {
	t.Setenv("PROD__HDFS_USER", "svc-prod")
	t.Setenv("PROD__HDFS_URL", "http://nn:9870")

	cfg := LoadFromEnv()
	prod, ok := cfg.HDFS["prod"]
	if !ok {
		t.Fatal("expected a \"prod\" HDFS profile to be discovered")
	}
	if prod.User != "svc-prod" {
		t.Errorf("User = %q, want %q", prod.User, "svc-prod")
	}
}

func TestLoadFromEnvParsesTelemetryAttributes(t *testing.T) {
	t.Setenv("MSC_OTLP_ENDPOINT", "otel-collector:4318")
	t.Setenv("MSC_OTLP_ATTRIBUTES", "region=us-east-1, tier=gold,malformed")

	cfg := LoadFromEnv()
	if !cfg.Telemetry.Enabled {
		t.Fatal("expected telemetry to be enabled when MSC_OTLP_ENDPOINT is set")
	}
	if got := cfg.Telemetry.StaticAttributes["region"]; got != "us-east-1" {
		t.Errorf("region = %q, want %q", got, "us-east-1")
	}
	if got := cfg.Telemetry.StaticAttributes["tier"]; got != "gold" {
		t.Errorf("tier = %q, want %q", got, "gold")
	}
	if len(cfg.Telemetry.StaticAttributes) != 2 {
		t.Errorf("expected malformed pair to be skipped, got %v", cfg.Telemetry.StaticAttributes)
	}
}

func TestParseStructuredYAMLAliases(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "aliases.yaml")
	content := "aliases:\n  mydata: \"s3://my-bucket/prefix\"\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadAliasFile(file)
	if err != nil {
		t.Fatalf("LoadAliasFile() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "mydata" || entries[0].Protocol != "s3" || entries[0].Prefix != "my-bucket/prefix" {
		t.Fatalf("entries = %+v, want one mydata->s3://my-bucket/prefix mapping", entries)
	}
}

func TestParseLegacyINIAliases(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "aliases.ini")
	content := "[mydata]\nprotocol = s3\nprefix = my-bucket/prefix\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadAliasFile(file)
	if err != nil {
		t.Fatalf("LoadAliasFile() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Protocol != "s3" || entries[0].Prefix != "my-bucket/prefix" {
		t.Fatalf("entries = %+v, want one s3://my-bucket/prefix mapping", entries)
	}
}

func TestApplyAliasesRegistersWithPathPackage(t *testing.T) {
	defer mpath.ClearAliases()

	ApplyAliases([]AliasEntry{{Name: "mydata", Protocol: "s3", Prefix: "my-bucket/prefix/"}})

	p := mpath.New("mydata://file.txt")
	if p.Protocol() != "s3" {
		t.Errorf("Protocol() = %q, want %q", p.Protocol(), "s3")
	}
	if p.PathWithoutProtocol() != "my-bucket/prefix/file.txt" {
		t.Errorf("PathWithoutProtocol() = %q, want %q", p.PathWithoutProtocol(), "my-bucket/prefix/file.txt")
	}
}
