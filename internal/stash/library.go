package stash

import (
	"context"
	"fmt"

	"go-stash-downloader/internal/models"
)

const metadataScanMutation = `mutation MetadataScan($input: ScanMetadataInput!) {
  metadataScan(input: $input)
}`

// ScanPaths starts a library scan restricted to paths and returns the job id.
func (c *Client) ScanPaths(ctx context.Context, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", nil
	}
	var data struct {
		MetadataScan string `json:"metadataScan"`
	}
	if err := c.Do(ctx, metadataScanMutation, map[string]any{"input": map[string]any{"paths": paths}}, &data); err != nil {
		return "", fmt.Errorf("metadata scan failed: %w", err)
	}
	return data.MetadataScan, nil
}

type findQuery struct {
	query string
	field string
	alias string
}

var findQueries = map[models.EntityKind]findQuery{
	models.EntityTag: {
		query: `query FindTags($filter: FindFilterType) { findTags(filter: $filter) { tags { id name aliases } } }`,
		field: "findTags",
	},
	models.EntityPerformer: {
		query: `query FindPerformers($filter: FindFilterType) { findPerformers(filter: $filter) { performers { id name alias_list } } }`,
		field: "findPerformers",
		alias: "alias_list",
	},
	models.EntityStudio: {
		query: `query FindStudios($filter: FindFilterType) { findStudios(filter: $filter) { studios { id name aliases } } }`,
		field: "findStudios",
	},
}

type hostEntity struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
	AliasList []string `json:"alias_list"`
}

// FindEntities searches host tags, performers or studios by name. An empty query with
// perPage -1 lists everything.
func (c *Client) FindEntities(ctx context.Context, kind models.EntityKind, q string, perPage int) ([]models.Entity, error) {
	fq, ok := findQueries[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	filter := map[string]any{"per_page": perPage}
	if q != "" {
		filter["q"] = q
	}

	var data map[string]map[string][]hostEntity
	if err := c.Do(ctx, fq.query, map[string]any{"filter": filter}, &data); err != nil {
		return nil, fmt.Errorf("finding %ss: %w", kind, err)
	}

	var list []hostEntity
	for _, v := range data[fq.field] {
		list = v
	}
	out := make([]models.Entity, 0, len(list))
	for _, e := range list {
		aliases := e.Aliases
		if fq.alias != "" {
			aliases = e.AliasList
		}
		out = append(out, models.Entity{ID: e.ID, Kind: kind, Name: e.Name, Aliases: aliases})
	}
	return out, nil
}
