package config

import (
	"fmt"
	"io"
	"os"
)

// Partition is one named message-store partition and its root directory,
// matching the original engine's partition table (the "partition" keyword
// used throughout imap/sync_support.c's file naming).
type Partition struct {
	Name string
	Root string
}

// Settings is mboxsync-client's and mboxsync-server's parsed configuration:
// the partition table, sieve root, staging directory, sync_crc negotiation
// range, the local/remote-wins annotation bias, and the listen address for
// the server (§1/§4.F/§3.4).
type Settings struct {
	Partitions   []Partition
	SieveRoot    string
	StagingDir   string
	CRCMin       int
	CRCMax       int
	CRCStrict    bool
	LocalWins    bool
	ListenAddr   string
	Debug        bool
}

// Load parses a config file at path into Settings.
func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return ParseSettings(f, path)
}

// ParseSettings reads Settings from r, annotating any error with file for
// diagnostics.
func ParseSettings(r io.Reader, file string) (*Settings, error) {
	nodes, err := Parse(r, file)
	if err != nil {
		return nil, err
	}
	root := Node{Name: "root", Children: nodes, File: file}
	m := NewMap(root)

	s := &Settings{}
	if err := m.String("sieve_root", false, "/var/mboxsync/sieve", &s.SieveRoot); err != nil {
		return nil, err
	}
	if err := m.String("staging_dir", false, "/var/mboxsync/staging", &s.StagingDir); err != nil {
		return nil, err
	}
	if err := m.Int("crc_min", false, 0, &s.CRCMin); err != nil {
		return nil, err
	}
	if err := m.Int("crc_max", false, 2, &s.CRCMax); err != nil {
		return nil, err
	}
	if err := m.Bool("crc_strict", false, &s.CRCStrict); err != nil {
		return nil, err
	}
	if err := m.Bool("local_wins", true, &s.LocalWins); err != nil {
		return nil, err
	}
	if err := m.String("listen", false, ":2005", &s.ListenAddr); err != nil {
		return nil, err
	}
	if err := m.Bool("debug", false, &s.Debug); err != nil {
		return nil, err
	}

	for _, c := range root.Children {
		if c.Name != "partition" {
			continue
		}
		if len(c.Args) != 2 {
			return nil, NodeErr(c, "partition: expected 'partition <name> <root>'")
		}
		s.Partitions = append(s.Partitions, Partition{Name: c.Args[0], Root: c.Args[1]})
	}

	return s, nil
}
