package rag

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/history"
	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

// NoGroundingMessage is the answer given when no fragment clears the similarity floor.
const NoGroundingMessage = "No grounding found: none of the indexed documents is relevant enough to answer this question."

// Answerer answers questions from retrieved fragments.
type Answerer struct {
	retriever *Retriever
	generator llm.Generator
	history   history.Store

	topK          int
	floor         float64
	strict        bool
	maxQueryLen   int
	genTimeout    time.Duration
	previewLength int
	linkBase      string

	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(a *Answerer) { a.logger = l }
}

// WithHistory saves every completed answer to h.
func WithHistory(h history.Store) Option {
	return func(a *Answerer) { a.history = h }
}

// NewAnswerer creates an answerer. Default top_k, floor and strict mode come from cfg
// and can be overridden per request.
func NewAnswerer(retriever *Retriever, generator llm.Generator, cfg *config.Config, opts ...Option) *Answerer {
	a := &Answerer{
		retriever:     retriever,
		generator:     generator,
		topK:          cfg.Retrieval.TopK,
		floor:         cfg.Retrieval.Floor(),
		strict:        cfg.Generation.Strict,
		maxQueryLen:   cfg.Retrieval.MaxQueryLength,
		genTimeout:    time.Duration(cfg.Generation.TimeoutSecs) * time.Second,
		previewLength: cfg.Citations.PreviewLength,
		linkBase:      cfg.Citations.LinkBase,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = utils.NopIfNil(a.logger)
	return a
}

// plan is a validated query with its retrieved grounding.
type plan struct {
	req       models.QueryRequest
	strict    bool
	ranked    []*models.RankedFragment
	citations []models.Citation
	prompt    string
}

// prepare validates req and retrieves fragments. A query with no relevant content
// yields a plan with no fragments rather than an error.
func (a *Answerer) prepare(ctx context.Context, req models.QueryRequest) (*plan, error) {
	if err := req.Validate(a.maxQueryLen); err != nil {
		return nil, err
	}
	p := &plan{req: req, strict: req.Strict || a.strict, citations: []models.Citation{}}
	topK := req.TopK
	if topK == 0 {
		topK = a.topK
	}
	floor := a.floor
	if req.Floor != nil {
		floor = *req.Floor
	}
	ranked, err := a.retriever.Retrieve(ctx, RetrieveRequest{
		Query:    req.Query,
		TopK:     topK,
		Floor:    floor,
		SourceID: req.SourceID,
	})
	if errors.Is(err, models.ErrNoRelevantContent) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.ranked = ranked
	p.citations = a.Citations(ranked)
	p.prompt = BuildPrompt(req.Query, ranked, p.strict)
	return p, nil
}

func (p *plan) grounded() bool { return len(p.ranked) > 0 }

// Ask answers req in complete mode. When nothing relevant is indexed the answer has
// NoGrounding set and a fixed message instead of generated text.
func (a *Answerer) Ask(ctx context.Context, req models.QueryRequest) (*models.Answer, error) {
	p, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if !p.grounded() {
		ans := a.newAnswer(p, NoGroundingMessage)
		a.save(ctx, ans)
		return ans, nil
	}

	genCtx, cancel := withTimeout(ctx, a.genTimeout)
	defer cancel()
	start := time.Now()
	raw, err := a.generator.Generate(genCtx, p.prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("generate: %w", ctx.Err())
		}
		return nil, fmt.Errorf("generate: %w: %w", models.ErrGenerationUnavailable, err)
	}
	a.logger.Debug("answer generated",
		zap.Int("fragments", len(p.ranked)),
		zap.Bool("strict", p.strict),
		zap.Duration("took", time.Since(start)))

	ans := a.newAnswer(p, raw)
	a.save(ctx, ans)
	return ans, nil
}

func (a *Answerer) newAnswer(p *plan, raw string) *models.Answer {
	return &models.Answer{
		ID:          uuid.New().String(),
		Query:       p.req.Query,
		DisplayText: RenderDisplay(raw),
		RawText:     raw,
		Citations:   p.citations,
		NoGrounding: !p.grounded(),
		Strict:      p.strict,
		CreatedAt:   a.now().UTC(),
	}
}

// save records ans in the history. A failure is logged; the answer is still returned.
func (a *Answerer) save(ctx context.Context, ans *models.Answer) {
	if a.history == nil {
		return
	}
	if err := a.history.Save(ctx, ans); err != nil {
		a.logger.Warn("failed to save answer", zap.String("id", ans.ID), zap.Error(err))
	}
}

// Citations describes each ranked fragment for display.
func (a *Answerer) Citations(ranked []*models.RankedFragment) []models.Citation {
	out := make([]models.Citation, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, models.Citation{
			SourceID:   r.SourceID,
			FragmentID: r.ID,
			Location:   r.Location,
			Similarity: r.Similarity,
			Preview:    utils.Truncate(r.Text, a.previewLength),
			Link:       Link(a.linkBase, r.SourceID, r.Location),
		})
	}
	return out
}

// Link returns a deep link to sourceID, pointing at the page when loc has one.
func Link(base, sourceID string, loc *models.Location) string {
	link := strings.TrimSuffix(base, "/") + "/" + url.PathEscape(sourceID)
	if loc != nil && loc.Page > 0 {
		link += "#page=" + strconv.Itoa(loc.Page)
	}
	return link
}
