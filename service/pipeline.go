package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mokecome/background-removal/config"
	"github.com/mokecome/background-removal/utils"
)

// ProcessingResult 一次抠图的最终产物，返回后归调用方独占所有权
type ProcessingResult struct {
	Image        *RasterBuffer
	Decision     TierDecision
	TierUsed     Tier
	Degradations []string
	SourceName   string
}

// TryResult 降级链中单个策略的统一结果：要么拿到掩码，要么降级
type TryResult struct {
	Mask    *AlphaMask
	Degrade bool
	Reason  string
}

type maskStrategy struct {
	tier Tier
	// terminal 策略（fast）不允许降级，失败会向上传播
	terminal bool
	acquire  func(ctx context.Context, img *RasterBuffer) TryResult
}

type pipelineState string

const (
	stateAcquiringMask pipelineState = "acquiring_mask"
	stateRefining      pipelineState = "refining"
	stateCompositing   pipelineState = "compositing"
	stateDone          pipelineState = "done"

	// 均衡档provider返回的掩码前景占比低于该值时视为未检测到人物
	missingPersonCoverage = 0.005
)

// TierPipeline 按档位编排抠图流程：获取原始掩码 → 精修 → 合成，
// provider失败时沿降级链退到下一档，fast档自包含不会失败
type TierPipeline struct {
	analyzer     *FeatureAnalyzer
	fast         Segmenter
	providers    map[Tier]MaskProvider
	semaphore    chan struct{}
	queueTimeout time.Duration
}

func NewTierPipeline(cfg *config.PipelineConfig, providers map[Tier]MaskProvider) *TierPipeline {
	var fast Segmenter = NewFastSegmenter()
	if cfg.FastVariant == "probability" {
		fast = NewProbabilitySegmenter()
	}

	return &TierPipeline{
		analyzer:     NewFeatureAnalyzer(),
		fast:         fast,
		providers:    providers,
		semaphore:    make(chan struct{}, cfg.MaxConcurrent),
		queueTimeout: time.Duration(cfg.QueueTimeout) * time.Second,
	}
}

func (p *TierPipeline) Analyzer() *FeatureAnalyzer {
	return p.analyzer
}

// Decide 确定档位：手动指定直接采用，否则分析图像后自动推荐
func (p *TierPipeline) Decide(img *RasterBuffer, requested string) TierDecision {
	if tier, ok := ParseTier(requested); ok {
		return TierDecision{Tier: tier}
	}

	fv := p.analyzer.Analyze(img)
	tier, _ := p.analyzer.Recommend(fv)
	return TierDecision{Tier: tier, Auto: true, Features: &fv}
}

// Process 处理单张图片。批量场景下每张图各自持有独立的缓冲区，
// 并发度由信号量约束，排队超过队列超时直接报错
func (p *TierPipeline) Process(ctx context.Context, img *RasterBuffer, decision TierDecision, sourceName string) (*ProcessingResult, error) {
	queueCtx, cancel := context.WithTimeout(ctx, p.queueTimeout)
	defer cancel()

	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-queueCtx.Done():
		return nil, fmt.Errorf("processing queue is full")
	}

	startTime := time.Now()
	result := &ProcessingResult{
		Decision:   decision,
		SourceName: sourceName,
	}

	// 获取原始掩码：按降级链逐个策略尝试
	p.logState(sourceName, stateAcquiringMask, decision.Tier)

	var mask *AlphaMask
	var tierUsed Tier
	for _, strategy := range p.chainFor(decision.Tier) {
		try := strategy.acquire(ctx, img)
		if !try.Degrade {
			mask = try.Mask
			tierUsed = strategy.tier
			break
		}
		// 可恢复的降级只记录日志，不作为用户可见的失败
		result.Degradations = append(result.Degradations,
			fmt.Sprintf("%s: %s", strategy.tier, try.Reason))
		utils.Logger.Warn("tier degraded",
			zap.String("source", sourceName),
			zap.String("tier", string(strategy.tier)),
			zap.String("reason", try.Reason))
	}
	if mask == nil {
		// fast策略是terminal的，正常输入不会走到这里
		return nil, fmt.Errorf("all segmentation strategies failed for %s", sourceName)
	}
	result.TierUsed = tierUsed

	p.logState(sourceName, stateRefining, tierUsed)
	RefinerForTier(tierUsed).Refine(mask)

	p.logState(sourceName, stateCompositing, tierUsed)
	composited, err := Composite(img, mask)
	if err != nil {
		return nil, err
	}
	result.Image = composited

	p.logState(sourceName, stateDone, tierUsed)
	utils.Logger.Info("image processed",
		zap.String("source", sourceName),
		zap.String("tier_requested", string(decision.Tier)),
		zap.String("tier_used", string(tierUsed)),
		zap.Bool("auto", decision.Auto),
		zap.Int("degradations", len(result.Degradations)),
		zap.Duration("duration", time.Since(startTime)))

	return result, nil
}

// chainFor 构建从请求档位到fast的有序策略链
func (p *TierPipeline) chainFor(tier Tier) []maskStrategy {
	var chain []maskStrategy
	for t := tier; ; {
		chain = append(chain, p.strategyFor(t))
		next, ok := t.NextLower()
		if !ok {
			break
		}
		t = next
	}
	return chain
}

func (p *TierPipeline) strategyFor(tier Tier) maskStrategy {
	if tier == TierFast {
		return maskStrategy{
			tier:     TierFast,
			terminal: true,
			acquire: func(_ context.Context, img *RasterBuffer) TryResult {
				return TryResult{Mask: p.fast.Segment(img)}
			},
		}
	}

	return maskStrategy{
		tier: tier,
		acquire: func(ctx context.Context, img *RasterBuffer) TryResult {
			provider, ok := p.providers[tier]
			if !ok {
				return TryResult{Degrade: true, Reason: "provider not configured"}
			}

			mask, err := provider.AcquireMask(ctx, img)
			if err != nil {
				return TryResult{Degrade: true, Reason: err.Error()}
			}
			// 均衡档的人像模型可能返回空掩码，视为未检测到人物
			if tier == TierBalanced && mask.Coverage() < missingPersonCoverage {
				return TryResult{Degrade: true, Reason: "no person detected"}
			}
			return TryResult{Mask: mask}
		},
	}
}

func (p *TierPipeline) logState(source string, state pipelineState, tier Tier) {
	utils.Logger.Debug("pipeline state",
		zap.String("source", source),
		zap.String("state", string(state)),
		zap.String("tier", string(tier)))
}
