package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/umbrellafw/umbrella/internal/cache"
	"github.com/umbrellafw/umbrella/internal/domain"
	"github.com/umbrellafw/umbrella/internal/rules"
)

type compiledMapper struct {
	transform rules.Transform
	err       error
}

// Mappers derives a request's endpoint and key from the organization's
// mapper programs when the integration did not supply them. Failures leave
// the field empty.
type Mappers struct {
	compiler rules.Compiler
	compiled *cache.Cache[compiledMapper]
	logger   *slog.Logger
}

// NewMappers caches compiled mapper programs by source text.
func NewMappers(compiler rules.Compiler, maxEntries int64, ttl time.Duration, logger *slog.Logger) (*Mappers, error) {
	compiled, err := cache.New[compiledMapper](maxEntries, ttl, cache.ExpireAfterAccess)
	if err != nil {
		return nil, err
	}
	return &Mappers{compiler: compiler, compiled: compiled, logger: logger.With("component", "mappers")}, nil
}

// Apply fills Endpoint and Key on metadata. A nil receiver returns metadata unchanged.
func (m *Mappers) Apply(ctx context.Context, org *domain.Organization, metadata domain.HTTPMetadata) domain.HTTPMetadata {
	if m == nil {
		return metadata
	}
	if metadata.Endpoint == "" && org.EndpointMapperSource != nil {
		metadata.Endpoint = m.run(ctx, org.Name, "endpoint", *org.EndpointMapperSource, metadata)
	}
	if metadata.Key == "" && org.KeyMapperSource != nil {
		metadata.Key = m.run(ctx, org.Name, "key", *org.KeyMapperSource, metadata)
	}
	return metadata
}

func (m *Mappers) run(ctx context.Context, org, field, source string, metadata domain.HTTPMetadata) string {
	entry, ok := m.compiled.Get(source)
	if !ok {
		t, err := m.compiler.Compile(source)
		entry = compiledMapper{transform: t, err: err}
		m.compiled.Set(source, entry)
	}
	if entry.err != nil {
		m.logger.WarnContext(ctx, "mapper does not compile", "org", org, "field", field, "error", entry.err)
		return ""
	}
	doc, err := rules.Document(metadata)
	if err != nil {
		return ""
	}
	out, err := entry.transform.Run(ctx, doc)
	if err != nil {
		m.logger.WarnContext(ctx, "mapper failed", "org", org, "field", field, "error", err)
		return ""
	}
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Close releases the compiled program cache.
func (m *Mappers) Close() {
	if m != nil {
		m.compiled.Close()
	}
}
