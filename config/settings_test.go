package config

import (
	"strings"
	"testing"
)

const sample = `
partition default /var/spool/mboxsync/default
partition archive /var/spool/mboxsync/archive

sieve_root /var/spool/mboxsync/sieve
staging_dir /var/spool/mboxsync/staging
crc_min 1
crc_max 2
crc_strict yes
local_wins no
listen 0.0.0.0:2005
`

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings(strings.NewReader(sample), "test.conf")
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if len(s.Partitions) != 2 || s.Partitions[0].Name != "default" || s.Partitions[1].Root != "/var/spool/mboxsync/archive" {
		t.Fatalf("got partitions %+v", s.Partitions)
	}
	if s.SieveRoot != "/var/spool/mboxsync/sieve" || s.StagingDir != "/var/spool/mboxsync/staging" {
		t.Fatalf("got %+v", s)
	}
	if s.CRCMin != 1 || s.CRCMax != 2 || !s.CRCStrict {
		t.Fatalf("got crc %d/%d/%v", s.CRCMin, s.CRCMax, s.CRCStrict)
	}
	if s.LocalWins {
		t.Fatal("want local_wins=false")
	}
	if s.ListenAddr != "0.0.0.0:2005" {
		t.Fatalf("got listen %q", s.ListenAddr)
	}
}

func TestParseSettingsDefaults(t *testing.T) {
	s, err := ParseSettings(strings.NewReader(""), "empty.conf")
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.ListenAddr != ":2005" || !s.LocalWins {
		t.Fatalf("got %+v", s)
	}
}

func TestParseSettingsRejectsBadPartition(t *testing.T) {
	_, err := ParseSettings(strings.NewReader("partition onlyonearg\n"), "bad.conf")
	if err == nil {
		t.Fatal("want error for malformed partition directive")
	}
}
