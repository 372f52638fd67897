package detector

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// ruleSetDigest fingerprints the files a rule set covers by path, size and
// modification time. A directory covers every regular file below it.
func ruleSetDigest(ruleSet string) (string, error) {
	h := murmur3.New128()
	err := filepath.WalkDir(ruleSet, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00", path, info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint rule set %s: %w", ruleSet, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// generation identifies what a detector would produce today: its
// presentation policy plus the rule files on disk.
func (d *Detector) generation() (string, error) {
	digest, err := ruleSetDigest(d.cfg.RuleSet)
	if err != nil {
		return "", err
	}
	c := d.cfg
	h := murmur3.New128()
	for _, part := range []string{c.ID, c.RuleSet, c.Summary, c.Severity.String(), c.Field, strconv.FormatBool(c.ShowStrings), digest} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Generation fingerprints the detectors named by ids (all when empty) as
// they stand on disk. It changes whenever a rule file or a detector's
// configuration changes, and fails when a rule set cannot be read.
func (c *Catalog) Generation(ids ...string) (string, error) {
	list, err := c.Select(ids...)
	if err != nil {
		return "", err
	}
	gens := make(map[string]string, len(list))
	for _, d := range list {
		g, err := d.generation()
		if err != nil {
			return "", err
		}
		gens[d.ID()] = g
	}
	return CombineGenerations(gens), nil
}

// CombineGenerations folds per-detector generations into one value,
// independent of map order. An empty generation still contributes, so a
// detector that was reset mid-sweep never matches the on-disk value.
func CombineGenerations(gens map[string]string) string {
	ids := make([]string, 0, len(gens))
	for id := range gens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	h := murmur3.New128()
	for _, id := range ids {
		fmt.Fprintf(h, "%s=%s\x00", id, gens[id])
	}
	return hex.EncodeToString(h.Sum(nil))
}
