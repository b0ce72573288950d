package citation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"go.uber.org/zap"

	"github.com/mawule-gabriel/synthesis/pkg/cache"
	"github.com/mawule-gabriel/synthesis/pkg/logger"
	"github.com/mawule-gabriel/synthesis/pkg/metrics"
)

// Retriever looks up guideline passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Citation, error)
}

// retrieveAPI is the subset of the Bedrock agent runtime client used here.
type retrieveAPI interface {
	Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// KnowledgeBase retrieves citations from an Amazon Bedrock knowledge base.
type KnowledgeBase struct {
	api        retrieveAPI
	id         string
	maxResults int32
}

func NewKnowledgeBase(cfg aws.Config, knowledgeBaseID string, maxResults int) *KnowledgeBase {
	return &KnowledgeBase{
		api:        bedrockagentruntime.NewFromConfig(cfg),
		id:         knowledgeBaseID,
		maxResults: int32(maxResults),
	}
}

func (kb *KnowledgeBase) Retrieve(ctx context.Context, query string) ([]Citation, error) {
	out, err := kb.api.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(kb.id),
		RetrievalQuery:  &types.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(kb.maxResults),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve from knowledge base %s: %w", kb.id, err)
	}

	citations := make([]Citation, 0, len(out.RetrievalResults))
	for _, r := range out.RetrievalResults {
		if r.Content == nil || aws.ToString(r.Content.Text) == "" {
			continue
		}
		c := Citation{
			Snippet: aws.ToString(r.Content.Text),
			Score:   aws.ToFloat64(r.Score),
		}
		c.ID, c.Title, c.Source = describeLocation(r.Location)
		citations = append(citations, c)
	}

	metrics.CitationLookups.WithLabelValues("knowledge_base").Inc()
	logger.Debug("Knowledge base retrieval completed",
		zap.String("knowledge_base_id", kb.id),
		zap.Int("citations", len(citations)))

	return citations, nil
}

// describeLocation derives an identifier, a readable title and a source label
// from where the passage was stored.
func describeLocation(loc *types.RetrievalResultLocation) (id, title, source string) {
	if loc == nil {
		return "", "", ""
	}

	switch {
	case loc.S3Location != nil:
		id = aws.ToString(loc.S3Location.Uri)
		source = "S3"
	case loc.WebLocation != nil:
		id = aws.ToString(loc.WebLocation.Url)
		if u, err := url.Parse(id); err == nil {
			source = u.Host
		}
	default:
		source = string(loc.Type)
	}

	if id != "" {
		base := path.Base(id)
		base = strings.TrimSuffix(base, path.Ext(base))
		title = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	}

	return id, title, source
}

// CachedRetriever memoizes another Retriever in the shared cache.
type CachedRetriever struct {
	next  Retriever
	cache cache.Cache
	scope string
}

func NewCachedRetriever(next Retriever, c cache.Cache, scope string) *CachedRetriever {
	return &CachedRetriever{next: next, cache: c, scope: scope}
}

func (r *CachedRetriever) Retrieve(ctx context.Context, query string) ([]Citation, error) {
	key := cache.CitationCacheKey(r.scope, query)

	var cached []Citation
	err := r.cache.Get(ctx, key, &cached)
	if err == nil {
		metrics.CitationLookups.WithLabelValues("cache").Inc()
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Warn("Citation cache read failed", zap.Error(err))
	}

	citations, err := r.next.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, key, citations); err != nil {
		logger.Warn("Citation cache write failed", zap.Error(err))
	}

	return citations, nil
}
