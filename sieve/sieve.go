// Package sieve implements the per-user sieve script file-set sync: an
// inventory walk, atomic upload, and active-script symlink management
// (§4.G), normalizing script names with golang.org/x/text/unicode/norm to
// guard against Unicode lookalikes, and optionally watching the directory
// with fsnotify for externally triggered changes between exchanges.
package sieve

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/replicon/mboxsync/guid"
	"github.com/replicon/mboxsync/internal/metrics"
	"github.com/replicon/mboxsync/protocol"
	"github.com/replicon/mboxsync/reconcile"
)

// ActiveLinkName is the special symlink naming the active script, per §6's
// filesystem layout.
const ActiveLinkName = "defaultbc"

// tempPrefix names the atomic-upload staging file; StaleTempFiles looks
// for leftovers of this shape from a crashed upload (SPEC_FULL.md §3.5).
const tempPrefix = "sync_tmp-"

// Dir operates on one user's sieve script directory.
type Dir struct {
	Path string
	Alg  guid.Algorithm
}

// Inventory lists dir's regular script files, hashing each for its GUID and
// marking the one defaultbc points at (if any) active. Dotfiles are
// skipped, matching sync_sieve_list_generate's opendir/readdir scan.
func (d Dir) Inventory() (*reconcile.SieveList, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, protocol.New(protocol.IOError, fmt.Sprintf("reading sieve dir: %v", err), nil)
	}

	list := reconcile.NewSieveList()
	var activeTarget string
	for _, ent := range entries {
		name := ent.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if name == ActiveLinkName {
			target, err := os.Readlink(filepath.Join(d.Path, name))
			if err == nil {
				activeTarget = target
			}
			continue
		}
		if strings.HasPrefix(name, tempPrefix) {
			continue
		}
		info, err := ent.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		g, err := hashFile(filepath.Join(d.Path, name), d.Alg)
		if err != nil {
			return nil, protocol.New(protocol.IOError, fmt.Sprintf("hashing %s: %v", name, err), nil)
		}
		list.Add(norm.NFC.String(name), uint64(info.ModTime().Unix()), g)
	}

	if activeTarget != "" {
		if e, ok := list.Lookup(norm.NFC.String(activeTarget)); ok {
			e.Active = true
		}
	}
	return list, nil
}

// StaleTempFiles lists leftover atomic-upload staging files from a prior
// crashed upload; the original never cleans these automatically and
// neither does this package — it only reports them (SPEC_FULL.md §3.5).
func (d Dir) StaleTempFiles() ([]string, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, protocol.New(protocol.IOError, fmt.Sprintf("reading sieve dir: %v", err), nil)
	}
	var stale []string
	for _, ent := range entries {
		if strings.HasPrefix(ent.Name(), tempPrefix) {
			stale = append(stale, filepath.Join(d.Path, ent.Name()))
		}
	}
	return stale, nil
}

// Upload atomically replaces (or creates) name's contents, sets its
// modification time to lastUpdate (epoch seconds), and reports IOError on
// any fsync/chtimes/rename failure (§4.G).
func (d Dir) Upload(name string, content io.Reader, lastUpdate uint64) error {
	name = norm.NFC.String(name)
	tmpPath := filepath.Join(d.Path, tempPrefix+strconv.Itoa(os.Getpid()))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return protocol.New(protocol.IOError, fmt.Sprintf("creating temp file: %v", err), nil)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return protocol.New(protocol.IOError, fmt.Sprintf("writing temp file: %v", err), nil)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return protocol.New(protocol.IOError, fmt.Sprintf("fsync temp file: %v", err), nil)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return protocol.New(protocol.IOError, fmt.Sprintf("closing temp file: %v", err), nil)
	}

	mtime := time.Unix(int64(lastUpdate), 0)
	if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
		os.Remove(tmpPath)
		return protocol.New(protocol.IOError, fmt.Sprintf("setting mtime: %v", err), nil)
	}

	dst := filepath.Join(d.Path, name)
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return protocol.New(protocol.IOError, fmt.Sprintf("renaming into place: %v", err), nil)
	}
	metrics.SieveMutations.WithLabelValues("upload").Inc()
	return nil
}

// Activate makes name the active script: unlink defaultbc (if present),
// then symlink it to name's bare filename.
func (d Dir) Activate(name string) error {
	name = norm.NFC.String(name)
	link := filepath.Join(d.Path, ActiveLinkName)
	if err := removeIfExists(link); err != nil {
		return err
	}
	if err := os.Symlink(name, link); err != nil {
		return protocol.New(protocol.IOError, fmt.Sprintf("activating %s: %v", name, err), nil)
	}
	metrics.SieveMutations.WithLabelValues("activate").Inc()
	return nil
}

// Deactivate removes the defaultbc symlink, leaving no active script.
func (d Dir) Deactivate() error {
	if err := removeIfExists(filepath.Join(d.Path, ActiveLinkName)); err != nil {
		return err
	}
	metrics.SieveMutations.WithLabelValues("deactivate").Inc()
	return nil
}

// Delete removes name, deactivating it first if it is the active script.
func (d Dir) Delete(name string) error {
	name = norm.NFC.String(name)
	link := filepath.Join(d.Path, ActiveLinkName)
	if target, err := os.Readlink(link); err == nil && target == name {
		if err := removeIfExists(link); err != nil {
			return err
		}
	}
	if err := os.Remove(filepath.Join(d.Path, name)); err != nil && !os.IsNotExist(err) {
		return protocol.New(protocol.IOError, fmt.Sprintf("deleting %s: %v", name, err), nil)
	}
	metrics.SieveMutations.WithLabelValues("delete").Inc()
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return protocol.New(protocol.IOError, fmt.Sprintf("removing %s: %v", path, err), nil)
	}
	return nil
}

func hashFile(path string, alg guid.Algorithm) (guid.GUID, error) {
	f, err := os.Open(path)
	if err != nil {
		return guid.Null, err
	}
	defer f.Close()
	h := guid.NewHasher(alg)
	if _, err := io.Copy(h, f); err != nil {
		return guid.Null, err
	}
	return guid.FromSum(h.Sum(nil)), nil
}
