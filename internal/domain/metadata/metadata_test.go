package metadata

import (
	"errors"
	"testing"
	"time"
)

func TestParseDocument_Traits(t *testing.T) {
	raw := []byte(`{
		"version": 1,
		"name": "1958 Submariner",
		"description": "Serviced 2021, box and papers",
		"attributes": [
			{"trait_type": "Market Status", "value": "listed"},
			{"trait_type": "Current Owner", "value": "vendor-9"},
			{"trait_type": "Provenance", "value": "Geneva auction 2019"},
			{"trait_type": "Price", "value": "18500"},
			{"trait_type": "Dial", "value": "gilt"}
		]
	}`)

	rec, err := ParseDocument(raw, "asset-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.Title != "1958 Submariner" {
		t.Fatalf("title: %q", rec.Title)
	}
	if rec.MarketStatus != "listed" || rec.CurrentOwner != "vendor-9" || rec.Provenance != "Geneva auction 2019" {
		t.Fatalf("traits not extracted: %+v", rec)
	}
	if rec.PriceUSD != 18500 {
		t.Fatalf("price: %v", rec.PriceUSD)
	}
}

func TestParseDocument_LegacyUnversioned(t *testing.T) {
	raw := []byte(`{"name": "Legacy piece", "attributes": []}`)
	rec, err := ParseDocument(raw, "asset-2")
	if err != nil {
		t.Fatalf("legacy document should parse as v1: %v", err)
	}
	if rec.Title != "Legacy piece" {
		t.Fatalf("title: %q", rec.Title)
	}
}

func TestParseDocument_Rejections(t *testing.T) {
	if _, err := ParseDocument([]byte(`{"version": 9, "name": "x"}`), "a"); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("future version: expected ErrUnsupportedVersion, got %v", err)
	}
	if _, err := ParseDocument([]byte(`{"version": 1}`), "a"); !errors.Is(err, ErrMissingTitle) {
		t.Fatalf("missing title: expected ErrMissingTitle, got %v", err)
	}
	if _, err := ParseDocument([]byte(`not json`), "a"); err == nil {
		t.Fatal("invalid JSON must be rejected")
	}
}

func TestToDocument_RoundTrip(t *testing.T) {
	rec := Record{
		AssetID:      "asset-3",
		Title:        "Patek 2499",
		MarketStatus: "pending",
		CurrentOwner: "vendor-2",
		PriceUSD:     240000,
	}
	doc := rec.ToDocument()
	if doc.Version != SchemaVersion {
		t.Fatalf("version: %d", doc.Version)
	}
	found := map[string]string{}
	for _, attr := range doc.Attributes {
		found[attr.TraitType] = attr.Value
	}
	if found[TraitMarketStatus] != "pending" || found[TraitCurrentOwner] != "vendor-2" || found[TraitPrice] != "240000" {
		t.Fatalf("attributes: %+v", doc.Attributes)
	}
}

func TestLatest_KeepsNewestPerAsset(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "m1", AssetID: "asset-1", Title: "old title", UpdatedAt: t0},
		{ID: "m2", AssetID: "asset-1", Title: "new title", UpdatedAt: t0.Add(time.Hour)},
		{ID: "m3", AssetID: "asset-2", Title: "other", UpdatedAt: t0},
	}
	latest := Latest(records)
	if len(latest) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(latest))
	}
	if latest["asset-1"].ID != "m2" {
		t.Fatalf("expected newest record for asset-1, got %s", latest["asset-1"].ID)
	}
}
