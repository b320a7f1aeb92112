// Package metadata defines the versioned descriptive-metadata schema mirrored
// off-chain for each asset, plus tolerant parsing of the content store's
// free-form trait documents.
package metadata

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// SchemaVersion is the current descriptive-metadata schema version.
const SchemaVersion = 1

// Trait names recognised in content-store documents.
const (
	TraitMarketStatus = "Market Status"
	TraitCurrentOwner = "Current Owner"
	TraitProvenance   = "Provenance"
	TraitPrice        = "Price"
)

// Errors
var (
	ErrUnsupportedVersion = errors.New("unsupported metadata schema version")
	ErrMissingTitle       = errors.New("metadata document has no title")
)

// Attribute is one free-form trait pair as pinned in the content store.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Document is the JSON document pinned to the content store for one asset.
type Document struct {
	Version     int         `json:"version"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// Record is the off-chain mirror of an asset's descriptive attributes. The
// most recently timestamped record per asset is authoritative for descriptive
// fields; ownership and balances always come from the ledger.
type Record struct {
	ID           string    `json:"id"`
	AssetID      string    `json:"asset_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	PriceUSD     float64   `json:"price_usd,omitempty"`
	MarketStatus string    `json:"market_status,omitempty"`
	CurrentOwner string    `json:"current_owner,omitempty"`
	Provenance   string    `json:"provenance,omitempty"`
	ContentURI   string    `json:"content_uri,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ParseDocument decodes a raw content-store document into a validated Record.
// Trait lists are loosely typed in the wild, so parsing is tolerant of shape
// but validation of the result is strict.
func ParseDocument(raw []byte, assetID string) (Record, error) {
	if !gjson.ValidBytes(raw) {
		return Record{}, fmt.Errorf("metadata for %s is not valid JSON", assetID)
	}
	doc := gjson.ParseBytes(raw)

	version := int(doc.Get("version").Int())
	if version == 0 {
		// Legacy documents predate versioning; read them as v1.
		version = 1
	}
	if version > SchemaVersion {
		return Record{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	rec := Record{
		AssetID:     assetID,
		Title:       doc.Get("name").String(),
		Description: doc.Get("description").String(),
	}

	doc.Get("attributes").ForEach(func(_, attr gjson.Result) bool {
		value := attr.Get("value").String()
		switch attr.Get("trait_type").String() {
		case TraitMarketStatus:
			rec.MarketStatus = value
		case TraitCurrentOwner:
			rec.CurrentOwner = value
		case TraitProvenance:
			rec.Provenance = value
		case TraitPrice:
			if price, err := strconv.ParseFloat(value, 64); err == nil {
				rec.PriceUSD = price
			}
		}
		return true
	})

	if rec.Title == "" {
		return Record{}, fmt.Errorf("%w: asset %s", ErrMissingTitle, assetID)
	}
	return rec, nil
}

// ToDocument renders the record as a pinnable content-store document.
func (r Record) ToDocument() Document {
	doc := Document{
		Version:     SchemaVersion,
		Name:        r.Title,
		Description: r.Description,
	}
	if r.MarketStatus != "" {
		doc.Attributes = append(doc.Attributes, Attribute{TraitType: TraitMarketStatus, Value: r.MarketStatus})
	}
	if r.CurrentOwner != "" {
		doc.Attributes = append(doc.Attributes, Attribute{TraitType: TraitCurrentOwner, Value: r.CurrentOwner})
	}
	if r.Provenance != "" {
		doc.Attributes = append(doc.Attributes, Attribute{TraitType: TraitProvenance, Value: r.Provenance})
	}
	if r.PriceUSD > 0 {
		doc.Attributes = append(doc.Attributes, Attribute{TraitType: TraitPrice, Value: strconv.FormatFloat(r.PriceUSD, 'f', -1, 64)})
	}
	return doc
}

// Latest returns, per asset identifier, the record with the most recent update
// timestamp. Older duplicates are dropped from the view only; storage keeps
// them.
func Latest(records []Record) map[string]Record {
	latest := make(map[string]Record, len(records))
	for _, rec := range records {
		if current, ok := latest[rec.AssetID]; !ok || rec.UpdatedAt.After(current.UpdatedAt) {
			latest[rec.AssetID] = rec
		}
	}
	return latest
}
