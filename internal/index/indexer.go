package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/store"
)

// Indexer rebuilds a Backend from the persistence layer.
type Indexer struct {
	store   store.Reader
	backend Backend
}

// NewIndexer creates an Indexer reading from s and writing to b.
func NewIndexer(s store.Reader, b Backend) *Indexer {
	return &Indexer{store: s, backend: b}
}

// ReindexAll replaces the index content with every issue in the store and returns the
// number of indexed documents. Searches issued after it returns see the new content.
func (ix *Indexer) ReindexAll(ctx context.Context) (int, error) {
	start := time.Now()

	components, err := ix.store.ListComponents(ctx)
	if err != nil {
		return 0, fmt.Errorf("load components: %w", err)
	}
	rules, err := ix.store.ListRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("load rules: %w", err)
	}
	issues, err := ix.store.ListIssues(ctx)
	if err != nil {
		return 0, fmt.Errorf("load issues: %w", err)
	}

	docs := BuildDocuments(issues, components, rules)
	if err := ix.backend.Replace(ctx, docs); err != nil {
		return 0, fmt.Errorf("replace index: %w", err)
	}

	slog.InfoContext(ctx, "reindexed issues",
		"issues", len(docs),
		"components", len(components),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return len(docs), nil
}

// BuildDocuments denormalizes issues. References to unknown components or rules leave
// the corresponding document fields empty.
func BuildDocuments(issues []*models.Issue, components []*models.Component, rules []*models.Rule) []Document {
	byUUID := make(map[string]*models.Component, len(components))
	for _, c := range components {
		byUUID[c.UUID] = c
	}
	ruleByKey := make(map[string]*models.Rule, len(rules))
	for _, r := range rules {
		ruleByKey[r.Key] = r
	}

	docs := make([]Document, 0, len(issues))
	for _, issue := range issues {
		component := byUUID[issue.ComponentUUID]
		project := byUUID[issue.ProjectUUID]
		docs = append(docs, NewDocument(issue, component, nearestModule(component, byUUID), project, ruleByKey[issue.RuleKey]))
	}
	return docs
}

// nearestModule returns the closest ancestor qualified as a module.
func nearestModule(c *models.Component, byUUID map[string]*models.Component) *models.Component {
	if c == nil {
		return nil
	}
	ancestors := c.Ancestors()
	for i := len(ancestors) - 1; i >= 0; i-- {
		if a := byUUID[ancestors[i]]; a != nil && a.Qualifier == models.QualifierModule {
			return a
		}
	}
	return nil
}
