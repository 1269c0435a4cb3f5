// Package imagehost implements remote manifest sources: simple-streams
// style two-file JSON indirection, alias/hash lookup, mirror
// substitution and periodic background refresh, per SPEC_FULL.md §4.3.
package imagehost

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ImageRecord is one entry in a remote's manifest, content-addressed by
// full SHA-256 hash.
type ImageRecord struct {
	Hash            string   `json:"hash"`
	Aliases         []string `json:"aliases"`
	OSFamily        string   `json:"os_family"`
	ReleaseCodename string   `json:"release_codename"`
	ReleaseTitle    string   `json:"release_title"`
	ImageURL        string   `json:"image_url"`
	StreamURL       string   `json:"stream_url"`
	Version         string   `json:"version"`
	Supported       bool     `json:"supported"`
}

// Manifest is a remote's current set of image records plus an
// alias-to-record index, with an expiry.
type Manifest struct {
	UpdatedAt time.Time      `json:"updated_at"`
	Images    []*ImageRecord `json:"images"`

	byAlias map[string]*ImageRecord
	byHash  map[string]*ImageRecord
}

func (m *Manifest) index() {
	m.byAlias = make(map[string]*ImageRecord)
	m.byHash = make(map[string]*ImageRecord)
	for _, img := range m.Images {
		m.byHash[img.Hash] = img
		for _, alias := range img.Aliases {
			m.byAlias[alias] = img
		}
	}
}

// Expired reports whether the manifest is older than ttl.
func (m *Manifest) Expired(ttl time.Duration) bool {
	return time.Since(m.UpdatedAt) > ttl
}

// indexDoc is the first of the two simple-streams indirection files: it
// points at the manifest document.
type indexDoc struct {
	ManifestPath string `json:"manifest_path"`
}

// rawManifestDoc is the second simple-streams indirection file: products
// keyed by name, each with versions keyed by date string, the newest date
// winning.
type rawManifestDoc struct {
	UpdatedAt string                `json:"updated_at"`
	Products  map[string]rawProduct `json:"products"`
}

type rawProduct struct {
	Aliases  string                `json:"aliases"`
	OS       string                `json:"os"`
	Release  string                `json:"release"`
	Versions map[string]rawVersion `json:"versions"`
}

type rawVersion struct {
	Items map[string]rawItem `json:"items"`
}

type rawItem struct {
	FType  string `json:"ftype"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// parseSimpleStreams decodes a simple-streams manifest document into a
// Manifest, selecting per-product the newest version date and, within
// it, the "disk1.img" or "disk-kvm.img" ftype item (backend-specific
// selection rules apply beyond this generic pick).
func parseSimpleStreams(data []byte, streamURL string) (*Manifest, error) {
	var raw rawManifestDoc
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("imagehost: parse manifest: %w", err)
	}

	m := &Manifest{UpdatedAt: time.Now()}
	for name, product := range raw.Products {
		newestDate := ""
		for date := range product.Versions {
			if date > newestDate {
				newestDate = date
			}
		}
		if newestDate == "" {
			continue
		}
		version := product.Versions[newestDate]

		var item *rawItem
		for _, candidate := range version.Items {
			if candidate.FType == "disk1.img" || candidate.FType == "disk-kvm.img" {
				c := candidate
				item = &c
				break
			}
		}
		if item == nil {
			continue
		}

		aliases := []string{name}
		if product.Aliases != "" {
			aliases = append(aliases, strings.Split(product.Aliases, ",")...)
		}
		rec := &ImageRecord{
			Hash:            item.SHA256,
			Aliases:         aliases,
			OSFamily:        product.OS,
			ReleaseCodename: product.Release,
			Version:         newestDate,
			ImageURL:        item.Path,
			StreamURL:       streamURL,
			Supported:       true,
		}
		m.Images = append(m.Images, rec)
	}
	m.index()
	return m, nil
}
