package services

import (
	"net/url"
	"strings"

	"heliox-backend/internal/models"
)

const maxSources = 8

// ExtractSources flattens grounding chunks into cited sources, deduplicated
// by exact URL in first-seen order and capped at maxSources. The first
// occurrence's title wins. Citations may arrive incrementally or only in a
// final chunk, so callers accumulate chunks across the whole stream before
// extracting.
func ExtractSources(chunks []GroundingChunk) []models.Source {
	sources := make([]models.Source, 0, maxSources)
	seen := make(map[string]struct{})

	for _, chunk := range chunks {
		if chunk.Web == nil {
			continue
		}
		if _, dup := seen[chunk.Web.URI]; dup {
			continue
		}
		seen[chunk.Web.URI] = struct{}{}

		title := chunk.Web.Title
		if title == "" {
			title = "Source"
		}
		sources = append(sources, models.Source{
			Title:  title,
			URL:    chunk.Web.URI,
			Domain: ExtractDomain(chunk.Web.URI),
		})
		if len(sources) == maxSources {
			break
		}
	}

	return sources
}

// SourcesFromResponse extracts cited sources from a full (non-streaming)
// response.
func SourcesFromResponse(resp *GeminiResponse) []models.Source {
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return []models.Source{}
	}
	return ExtractSources(resp.Candidates[0].GroundingMetadata.GroundingChunks)
}

// ExtractDomain returns the lowercase hostname with a leading "www."
// stripped, or "" when the URL does not parse to a host.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
