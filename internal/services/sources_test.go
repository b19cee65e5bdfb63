package services

import (
	"fmt"
	"testing"
)

func webChunk(uri, title string) GroundingChunk {
	return GroundingChunk{Web: &GroundingWeb{URI: uri, Title: title}}
}

func TestExtractSources_DedupAndOrder(t *testing.T) {
	chunks := []GroundingChunk{
		webChunk("https://a.example", "First"),
		webChunk("https://b.example", "Second"),
		webChunk("https://a.example", "Duplicate"),
		{}, // no web citation
		webChunk("https://c.example", ""),
	}

	sources := ExtractSources(chunks)

	if len(sources) != 3 {
		t.Fatalf("Expected 3 unique sources, got %d: %+v", len(sources), sources)
	}
	if sources[0].URL != "https://a.example" || sources[0].Title != "First" {
		t.Errorf("First occurrence must win: %+v", sources[0])
	}
	if sources[1].URL != "https://b.example" {
		t.Errorf("Expected first-seen order, got %+v", sources)
	}
	if sources[2].Title != "Source" {
		t.Errorf("Expected default title 'Source', got %q", sources[2].Title)
	}
}

func TestExtractSources_Cap(t *testing.T) {
	var chunks []GroundingChunk
	for i := 0; i < 12; i++ {
		chunks = append(chunks, webChunk(fmt.Sprintf("https://site%d.example", i), "t"))
	}

	sources := ExtractSources(chunks)
	if len(sources) != 8 {
		t.Fatalf("Expected cap of 8, got %d", len(sources))
	}
	if sources[0].URL != "https://site0.example" || sources[7].URL != "https://site7.example" {
		t.Errorf("Cap must keep the first 8 in encounter order: %+v", sources)
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"plain host", "https://a.example/path", "a.example"},
		{"www stripped", "https://www.example.com", "example.com"},
		{"mixed case lowered", "https://WWW.Example.COM/x", "example.com"},
		{"www only stripped at front", "https://docs.www-archive.org", "docs.www-archive.org"},
		{"unparseable", "://bad", ""},
		{"no host", "not a url", ""},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractDomain(tc.url); got != tc.expected {
				t.Errorf("ExtractDomain(%q): expected %q, got %q", tc.url, tc.expected, got)
			}
		})
	}
}
